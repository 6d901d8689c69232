package placeholder

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ParseValuesFile reads KEY=value lines (dotenv style) into a value map.
// Blank lines and # comments are skipped.
func ParseValuesFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), `"'`)
	}
	return values, scanner.Err()
}

// ParseSet parses repeated --set key=value flags.
func ParseSet(args []string) (map[string]string, error) {
	values := map[string]string{}
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid placeholder assignment %q (expected key=value)", arg)
		}
		values[strings.TrimSpace(parts[0])] = parts[1]
	}
	return values, nil
}
