// Package estimate parses structured cost estimate replies into rows and a total.
package estimate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/capitalize-ai/cost-estimator/internal/model"
)

// ErrMalformedEstimate matches every MalformedError.
var ErrMalformedEstimate = errors.New("malformed estimate response")

// MalformedError describes why a reply does not satisfy the estimate contract.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedEstimate, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedEstimate
}

func malformed(format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// Format parses jsonText into service rows and the reported total. The total
// is returned as given; rows are not summed.
func Format(jsonText string) ([]model.ServiceRow, float64, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFence(jsonText)), &doc); err != nil {
		return nil, 0, malformed("not a JSON object: %v", err)
	}

	rawServices, ok := doc["services"]
	if !ok {
		return nil, 0, malformed(`missing "services"`)
	}
	rawTotal, ok := doc["total_estimated_monthly_cost"]
	if !ok {
		return nil, 0, malformed(`missing "total_estimated_monthly_cost"`)
	}

	var total float64
	if isNull(rawTotal) || json.Unmarshal(rawTotal, &total) != nil {
		return nil, 0, malformed(`"total_estimated_monthly_cost" is not a number`)
	}

	var services []map[string]json.RawMessage
	if isNull(rawServices) || json.Unmarshal(rawServices, &services) != nil {
		return nil, 0, malformed(`"services" is not an array of objects`)
	}

	rows := make([]model.ServiceRow, 0, len(services))
	for i, svc := range services {
		row, err := parseRow(svc)
		if err != nil {
			return nil, 0, malformed("service %d: %v", i, err)
		}
		rows = append(rows, row)
	}

	return rows, total, nil
}

func parseRow(svc map[string]json.RawMessage) (model.ServiceRow, error) {
	if svc == nil {
		return model.ServiceRow{}, errors.New("not an object")
	}

	var row model.ServiceRow
	var err error

	raw, ok := svc["service_name"]
	if !ok {
		return row, errors.New(`missing "service_name"`)
	}
	if row.ServiceName, err = scalar(raw); err != nil {
		return row, fmt.Errorf("service_name: %w", err)
	}

	raw, ok = svc["estimated_monthly_cost"]
	if !ok {
		return row, errors.New(`missing "estimated_monthly_cost"`)
	}
	if row.EstimatedMonthlyCost, err = scalar(raw); err != nil {
		return row, fmt.Errorf("estimated_monthly_cost: %w", err)
	}

	if raw, ok := svc["quantity"]; ok {
		if row.Quantity, err = scalar(raw); err != nil {
			return row, fmt.Errorf("quantity: %w", err)
		}
	}
	if raw, ok := svc["price_rate"]; ok {
		if row.PriceRate, err = scalar(raw); err != nil {
			return row, fmt.Errorf("price_rate: %w", err)
		}
	}
	if raw, ok := svc["assumptions"]; ok {
		if row.Assumptions, err = assumptions(raw); err != nil {
			return row, fmt.Errorf("assumptions: %w", err)
		}
	}

	return row, nil
}

// scalar accepts a JSON string or number and returns its text. null reads as "".
func scalar(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String(), nil
	}
	return "", errors.New("expected a string or number")
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func assumptions(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	// Some replies collapse a single assumption to a string.
	s, err := scalar(raw)
	if err != nil {
		return nil, errors.New("expected an array of strings")
	}
	if s == "" {
		return nil, nil
	}
	return []string{s}, nil
}

// stripFence removes a markdown code fence around the JSON, which backends
// without a native JSON mode sometimes add.
func stripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// Markdown renders rows and total as a markdown table.
func Markdown(rows []model.ServiceRow, total float64) string {
	var b strings.Builder
	b.WriteString("| Service | Assumptions | Quantity | Pricing Rate | Monthly Cost |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			cell(r.ServiceName),
			cell(strings.Join(r.Assumptions, "; ")),
			cell(r.Quantity),
			cell(r.PriceRate),
			cell(r.EstimatedMonthlyCost),
		)
	}
	fmt.Fprintf(&b, "\n**Total estimated monthly cost:** £%s\n", strconv.FormatFloat(total, 'f', 2, 64))
	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
