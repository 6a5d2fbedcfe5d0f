package bootstrap

import (
	"context"
	"fmt"
	"io"

	"formrelay/config"
	"formrelay/core/domain"
	"formrelay/core/service/classification"
	"formrelay/core/service/submission"
	"formrelay/pkg/metrics"

	"github.com/goccy/go-json"
)

// Classify reads one submission record from r and writes its payload to w
// without touching any backend. A "tracking" object in the record supplies
// the attribution signals. With explain set the whole preview is written.
func Classify(cfg *config.Config, r io.Reader, w io.Writer, explain bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return fmt.Errorf("submission must be a JSON object")
	}

	var signals domain.TrackingSignals
	if tracking, ok := raw["tracking"]; ok {
		encoded, err := json.Marshal(tracking)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(encoded, &signals); err != nil {
			return fmt.Errorf("decode tracking: %w", err)
		}
	}

	var ruleset *classification.Ruleset
	if cfg.RulesetFile != "" {
		if ruleset, err = classification.LoadRulesetFile(cfg.RulesetFile); err != nil {
			return err
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	svc := submission.NewService(submission.Config{
		PayloadPrefix:    cfg.PayloadPrefix,
		DefaultFormTitle: cfg.DefaultFormTitle,
		ExcludedFormIDs:  cfg.ExcludedFormIDs,
		Location:         loc,
	}, classification.NewClassifier(ruleset, classification.NewValueNormalizer(cfg.CheckedMarkers)),
		nil, nil, metrics.NewRegistry(1))

	result, err := svc.Preview(context.Background(), domain.SubmissionFromRecord(raw), signals)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if explain {
		return enc.Encode(result)
	}
	if result.Excluded {
		return enc.Encode(raw)
	}
	return enc.Encode(result.Payload)
}
