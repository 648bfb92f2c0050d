package tools

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Tool names offered to the model.
const (
	NameSearchWeb     = "search_web"
	NameSearchWebpage = "search_webpage"
	NameDateTime      = "getDateTime"
	NameCalculate     = "calculate"
	NameConvertUnits  = "convert_units"
	NameRollDice      = "roll_dice"
)

// SearchWebArgs are the arguments of search_web.
type SearchWebArgs struct {
	Query string `json:"query" jsonschema:"The search query to look up on the web"`
}

// SearchWebpageArgs are the arguments of search_webpage.
type SearchWebpageArgs struct {
	Query   string `json:"query" jsonschema:"What to look for on the website"`
	Webpage string `json:"webpage" jsonschema:"The website or domain to search, for example wikipedia.org"`
}

// DateTimeArgs are the arguments of getDateTime.
type DateTimeArgs struct{}

// CalculateArgs are the arguments of calculate.
type CalculateArgs struct {
	Expression string `json:"expression" jsonschema:"The math expression to evaluate, for example 2 + 2 * 3 or sqrt(16)"`
}

// ConvertUnitsArgs are the arguments of convert_units.
type ConvertUnitsArgs struct {
	Value      float64 `json:"value" jsonschema:"The numeric value to convert"`
	Conversion string  `json:"conversion" jsonschema:"The conversion to apply, for example miles_to_km or fahrenheit_to_celsius"`
}

// RollDiceArgs are the arguments of roll_dice.
type RollDiceArgs struct {
	DiceExpression string `json:"dice_expression" jsonschema:"Dice in XdY notation, for example 2d6 or 1d20"`
}

// CatalogConfig configures the standard catalog.
type CatalogConfig struct {
	// Searcher backs both search tools. Nil leaves them out of the catalog.
	Searcher      Searcher
	SearchTimeout time.Duration
	LocalTimeout  time.Duration
	Location      *time.Location
	Now           func() time.Time
	Dice          Dice
	Logger        *slog.Logger
}

// Catalog builds the standard tool registry.
func Catalog(cfg CatalogConfig) (*Registry, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 60 * time.Second
	}

	var list []*Tool
	add := func(t *Tool, err error) error {
		if err != nil {
			return err
		}
		list = append(list, t)
		return nil
	}

	var errs []error
	if s := cfg.Searcher; s != nil {
		errs = append(errs,
			add(New(NameSearchWeb,
				"Search the web for current information, news, facts or anything the assistant does not know.",
				cfg.SearchTimeout,
				func(ctx context.Context, a SearchWebArgs) (string, error) {
					return s.Search(ctx, a.Query, "")
				})),
			add(New(NameSearchWebpage,
				"Search within a specific website for information.",
				cfg.SearchTimeout,
				func(ctx context.Context, a SearchWebpageArgs) (string, error) {
					return s.Search(ctx, a.Query, a.Webpage)
				})),
		)
	}
	errs = append(errs,
		add(New(NameDateTime,
			"Get the current date and time.",
			cfg.LocalTimeout,
			func(context.Context, DateTimeArgs) (string, error) {
				return FormatDateTime(cfg.Now().In(cfg.Location)), nil
			})),
		add(New(NameCalculate,
			"Evaluate a mathematical expression. Supports + - * / ^, parentheses, sqrt, sin, cos, tan, log, ln, abs, pi, e and percentages like 15% of 200.",
			cfg.LocalTimeout,
			func(_ context.Context, a CalculateArgs) (string, error) {
				return Calculate(a.Expression)
			})),
		add(New(NameConvertUnits,
			"Convert between units of temperature, distance, length, weight and volume.",
			cfg.LocalTimeout,
			func(_ context.Context, a ConvertUnitsArgs) (string, error) {
				return ConvertUnits(a.Value, a.Conversion)
			})),
		add(New(NameRollDice,
			"Roll dice using XdY notation, for tabletop games.",
			cfg.LocalTimeout,
			func(_ context.Context, a RollDiceArgs) (string, error) {
				return cfg.Dice.Roll(a.DiceExpression)
			})),
	)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return NewRegistry(cfg.Logger, list...)
}
