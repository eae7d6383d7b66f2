package vector

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadWeights parses a weights listing: one "name value" pair per line.
// Blank lines and lines starting with '#' are ignored.
func ReadWeights(r io.Reader) (Vector, error) {
	weights := New()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("weights line %d: expected 'name value', got %q", lineNo, line)
		}
		val, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("weights line %d: %w", lineNo, err)
		}
		weights[fields[0]] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return weights, nil
}

// WriteWeights writes weights in the format read by ReadWeights, sorted by name.
func WriteWeights(w io.Writer, weights Vector) error {
	for _, name := range weights.Names() {
		if _, err := fmt.Fprintf(w, "%s %s\n", name, strconv.FormatFloat(weights[name], 'g', -1, 64)); err != nil {
			return err
		}
	}
	return nil
}
