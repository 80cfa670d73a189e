// Package personalize turns stored templates and custom text into the
// concrete subject and body of a queued email.
package personalize

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/osteele/liquid"
)

// liquidCacheSize bounds the number of parsed templates kept in memory.
const liquidCacheSize = 256

// DataBag maps placeholder names to values. Only strings and numbers take
// part in substitution.
type DataBag map[string]any

// Renderer renders text against a data bag.
type Renderer interface {
	Render(text string, data DataBag) (string, error)
}

// PlaceholderRenderer replaces {{name}} tokens with values from the bag.
// Tokens without a matching scalar value are left untouched.
type PlaceholderRenderer struct{}

func (PlaceholderRenderer) Render(text string, data DataBag) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		s, ok := scalarString(v)
		if !ok {
			continue
		}
		pairs = append(pairs, "{{"+k+"}}", s)
	}
	if len(pairs) == 0 {
		return text, nil
	}
	return strings.NewReplacer(pairs...).Replace(text), nil
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

// LiquidRenderer renders Liquid templates. Unlike PlaceholderRenderer it
// renders unknown variables as empty strings and supports filters such as
// {{ first_name | default: "there" }}.
type LiquidRenderer struct {
	engine *liquid.Engine
	cache  *lru.Cache[string, *liquid.Template]
}

func NewLiquidRenderer() *LiquidRenderer {
	engine := liquid.NewEngine()
	engine.RegisterFilter("currency", func(value any) string {
		s, ok := scalarString(value)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil {
			return s
		}
		return "$" + FormatMoney(f)
	})
	cache, _ := lru.New[string, *liquid.Template](liquidCacheSize)
	return &LiquidRenderer{engine: engine, cache: cache}
}

func (r *LiquidRenderer) Render(text string, data DataBag) (string, error) {
	tpl, ok := r.cache.Get(text)
	if !ok {
		parsed, err := r.engine.ParseString(text)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Add(text, parsed)
		tpl = parsed
	}

	bindings := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := scalarString(v); ok {
			bindings[k] = s
		}
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// NewRenderer returns the renderer registered under engine. The empty name
// selects the placeholder renderer.
func NewRenderer(engine string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", "placeholder":
		return PlaceholderRenderer{}, nil
	case "liquid":
		return NewLiquidRenderer(), nil
	default:
		return nil, fmt.Errorf("unknown template engine %q", engine)
	}
}
