package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// legacyFiles mirrors log-config.json from earlier deployments:
//
//	{"files": [{"path": "...", "delimiter": ",", "fields": [{"name": "user"}],
//	            "topic": "events.{{action}}", "headerKey": "src", "headerIndex": 0}]}
type legacyFiles struct {
	Files []struct {
		Path      string `json:"path"`
		Delimiter string `json:"delimiter"`
		Fields    []struct {
			Name string `json:"name"`
		} `json:"fields"`
		Topic       string `json:"topic"`
		HeaderKey   string `json:"headerKey"`
		HeaderIndex int    `json:"headerIndex"`
	} `json:"files"`
}

// LoadLegacyFiles reads file specs from a log-config.json document
func LoadLegacyFiles(path string) ([]FileSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc legacyFiles
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	specs := make([]FileSpec, 0, len(doc.Files))
	for _, f := range doc.Files {
		fields := make([]string, 0, len(f.Fields))
		for _, field := range f.Fields {
			fields = append(fields, field.Name)
		}
		specs = append(specs, FileSpec{
			Path:        f.Path,
			Delimiter:   f.Delimiter,
			Fields:      fields,
			Topic:       f.Topic,
			HeaderKey:   f.HeaderKey,
			HeaderIndex: f.HeaderIndex,
		})
	}

	return specs, nil
}

// ApplyLegacyBroker overlays librdkafka-style settings from a kafka-config.yaml
// document onto c. Unknown keys are ignored.
func ApplyLegacyBroker(path string, c *Configuration) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	c.Broker.Type = "kafka"

	for _, key := range []string{"metadata.broker.list", "bootstrap.servers"} {
		if v, ok := doc[key]; ok {
			c.Broker.Brokers = splitList(fmt.Sprint(v))
		}
	}

	if v, ok := doc["client.id"]; ok {
		c.ClientID = fmt.Sprint(v)
	}

	for _, key := range []string{"request.required.acks", "acks"} {
		v, ok := doc[key]
		if !ok {
			continue
		}
		switch strings.ToLower(fmt.Sprint(v)) {
		case "-1", "all":
			c.Broker.Acks = "all"
		case "1":
			c.Broker.Acks = "one"
		default:
			c.Broker.Acks = fmt.Sprint(v) // Rejected later by Validate
		}
	}

	for _, key := range []string{"compression.codec", "compression.type"} {
		if v, ok := doc[key]; ok {
			c.Broker.Compression = strings.ToLower(fmt.Sprint(v))
		}
	}

	if v, ok := doc["batch.num.messages"]; ok {
		if n, err := strconv.Atoi(fmt.Sprint(v)); err == nil && n > 0 {
			c.Broker.BatchSize = n
		}
	}

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
