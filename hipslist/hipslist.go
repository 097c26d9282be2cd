// Package hipslist parses the HiPS-list file format: a line-oriented
// key=value document where blank lines separate survey records. A
// record is emitted once a blank line or EOF follows a record that
// carries a hips_service_url.
package hipslist

import (
	"bufio"
	"io"
	"strings"
)

// Record is one survey entry from a HiPS-list document.
type Record struct {
	ServiceURL  string
	ReleaseDate string
	Properties  map[string]string
}

// Parse reads a HiPS-list document and returns one Record per survey
// entry that declared a hips_service_url.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)

	var records []Record
	current := map[string]string{}

	flush := func() {
		url, ok := current["hips_service_url"]
		if ok && url != "" {
			records = append(records, Record{
				ServiceURL:  url,
				ReleaseDate: current["hips_release_date"],
				Properties:  current,
			})
		}
		current = map[string]string{}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		current[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return records, nil
}

func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	return key, value, key != ""
}
