package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Render hints understood by the transport
const (
	RenderPlain    = "plain"
	RenderMarkdown = "markdown"
	RenderHTML     = "html"
)

type ModelSpec struct {
	Name             string `yaml:"name"`
	ContextWindow    int    `yaml:"context_window"`
	InputPricePer1K  string `yaml:"input_price_per_1k"`
	OutputPricePer1K string `yaml:"output_price_per_1k"`

	inputPrice  decimal.Decimal
	outputPrice decimal.Decimal
}

type ModelsConfig struct {
	Models []ModelSpec `yaml:"models"`
}

// ModelCatalog resolves per-model limits and prices
type ModelCatalog struct {
	models map[string]ModelSpec
}

type PredefinedResponse struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Text     string   `yaml:"text"`
	Render   string   `yaml:"render"`
}

type ResponsesConfig struct {
	Responses []PredefinedResponse `yaml:"responses"`
}

// DefaultModels is used when no MODELS_FILE is configured
func DefaultModels() *ModelCatalog {
	catalog, _ := newModelCatalog([]ModelSpec{
		{Name: "gpt-4o-mini", ContextWindow: 128000, InputPricePer1K: "0.00015", OutputPricePer1K: "0.0006"},
		{Name: "gpt-4o", ContextWindow: 128000, InputPricePer1K: "0.0025", OutputPricePer1K: "0.01"},
		{Name: "gpt-3.5-turbo", ContextWindow: 16385, InputPricePer1K: "0.0005", OutputPricePer1K: "0.0015"},
	})
	return catalog
}

// DefaultResponses is used when no RESPONSES_FILE is configured
func DefaultResponses() []PredefinedResponse {
	return []PredefinedResponse{
		{
			Name:     "help",
			Keywords: []string{"help", "помощь", "что ты умеешь", "what can you do", "команды", "commands"},
			Text: "**English Teacher Help**\n\n" +
				"What I do:\n" +
				"- Correct English grammar and spelling\n" +
				"- Translate text from any language to English\n" +
				"- Explain every error I find\n" +
				"- Track your learning progress (/progress)\n\n" +
				"Each answer costs one credit. Check your balance with /balance.",
			Render: RenderMarkdown,
		},
	}
}

func LoadModelCatalog(modelsFile string) (*ModelCatalog, error) {
	var config ModelsConfig
	if err := readYAML(modelsFile, &config); err != nil {
		return nil, err
	}
	return newModelCatalog(config.Models)
}

func newModelCatalog(specs []ModelSpec) (*ModelCatalog, error) {
	catalog := &ModelCatalog{models: make(map[string]ModelSpec, len(specs))}
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("model at index %d missing name", i)
		}
		if spec.ContextWindow <= 0 {
			return nil, fmt.Errorf("model %s has invalid context_window %d", spec.Name, spec.ContextWindow)
		}
		var err error
		if spec.inputPrice, err = parsePrice(spec.InputPricePer1K); err != nil {
			return nil, fmt.Errorf("model %s input price: %w", spec.Name, err)
		}
		if spec.outputPrice, err = parsePrice(spec.OutputPricePer1K); err != nil {
			return nil, fmt.Errorf("model %s output price: %w", spec.Name, err)
		}
		catalog.models[spec.Name] = spec
	}
	return catalog, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative price %s", raw)
	}
	return price, nil
}

func (c *ModelCatalog) Lookup(name string) (ModelSpec, bool) {
	spec, ok := c.models[name]
	return spec, ok
}

// InputLimit returns the smaller of the model's context window and the
// configured cap. Unknown models get the cap unchanged.
func (c *ModelCatalog) InputLimit(name string, hardCap int) int {
	spec, ok := c.models[name]
	if !ok || (hardCap > 0 && hardCap < spec.ContextWindow) {
		return hardCap
	}
	return spec.ContextWindow
}

// EstimateCost prices a call in USD. Unknown models cost zero.
func (c *ModelCatalog) EstimateCost(name string, inputTokens, outputTokens int) decimal.Decimal {
	spec, ok := c.models[name]
	if !ok {
		return decimal.Zero
	}
	thousand := decimal.NewFromInt(1000)
	in := spec.inputPrice.Mul(decimal.NewFromInt(int64(inputTokens))).Div(thousand)
	out := spec.outputPrice.Mul(decimal.NewFromInt(int64(outputTokens))).Div(thousand)
	return in.Add(out).Round(6)
}

func LoadResponses(responsesFile string) ([]PredefinedResponse, error) {
	var config ResponsesConfig
	if err := readYAML(responsesFile, &config); err != nil {
		return nil, err
	}

	for i, r := range config.Responses {
		if r.Name == "" {
			return nil, fmt.Errorf("response at index %d missing name", i)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("response %s has no keywords", r.Name)
		}
		if r.Text == "" {
			return nil, fmt.Errorf("response %s has empty text", r.Name)
		}
		switch r.Render {
		case "":
			config.Responses[i].Render = RenderPlain
		case RenderPlain, RenderMarkdown, RenderHTML:
		default:
			return nil, fmt.Errorf("response %s has unknown render %q", r.Name, r.Render)
		}
		for k, kw := range r.Keywords {
			config.Responses[i].Keywords[k] = strings.ToLower(kw)
		}
	}

	return config.Responses, nil
}

func readYAML(file string, out interface{}) error {
	var path string
	if filepath.IsAbs(file) {
		path = file
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, file)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", file, err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unable to parse %s: %w", file, err)
	}
	return nil
}

// MatchResponse returns the first predefined response with a keyword
// contained in text, case-insensitively.
func MatchResponse(text string, responses []PredefinedResponse) (PredefinedResponse, bool) {
	lower := strings.ToLower(text)
	for _, r := range responses {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return r, true
			}
		}
	}
	return PredefinedResponse{}, false
}
