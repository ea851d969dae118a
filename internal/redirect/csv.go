package redirect

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const csvHeader = "source,destination,type,regex"

var truthyValues = []string{"1", "true", "yes"}

// ImportCSV adds one rule per line of r. Bad lines are skipped and reported,
// the remaining lines are still imported.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) (ImportResult, error) {
	result := ImportResult{Errors: []string{}}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if lineNum == 1 && strings.Contains(strings.ToLower(line), "source") {
			continue
		}

		skip := func(reason string) {
			result.Errors = append(result.Errors, fmt.Sprintf("Line %d: %s", lineNum, reason))
			result.Skipped++
		}

		parts, err := parseCSVLine(line)
		if err != nil || len(parts) < 2 {
			skip("Invalid format")
			continue
		}

		in := RuleInput{
			Source:      parts[0],
			Destination: parts[1],
			Type:        Permanent,
		}
		if len(parts) > 2 {
			if code, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil {
				in.Type = Type(code)
			}
		}
		if len(parts) > 3 {
			in.Regex = lo.Contains(truthyValues, strings.ToLower(strings.TrimSpace(parts[3])))
		}

		if in.Source == "" {
			skip("Empty source")
			continue
		}

		if _, err := s.Add(ctx, in); err != nil {
			skip(err.Error())
			continue
		}
		result.Imported++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read csv: %w", err)
	}

	log.Info().
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Msg("redirects imported")

	return result, nil
}

func parseCSVLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	return reader.Read()
}

// ExportCSV writes every rule with all fields quoted.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	rules, err := s.All(ctx)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(csvHeader + "\n"); err != nil {
		return err
	}
	for _, rule := range rules {
		_, err := fmt.Fprintf(bw, "%s,%s,%s,%s\n",
			quoteCSV(rule.Source),
			quoteCSV(rule.Destination),
			quoteCSV(strconv.Itoa(int(rule.Type))),
			quoteCSV(strconv.FormatBool(rule.Regex)),
		)
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

func quoteCSV(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
