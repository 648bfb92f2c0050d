package tools

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FormatDateTime renders t the way the bot reads the clock aloud.
func FormatDateTime(t time.Time) string {
	return fmt.Sprintf("Today's date is %s. The current time is %s.",
		t.Format("Monday, January 02, 2006"), t.Format("03:04 PM"))
}

var conversions = map[string]func(float64) float64{
	"fahrenheit_to_celsius": func(f float64) float64 { return (f - 32) * 5 / 9 },
	"celsius_to_fahrenheit": func(c float64) float64 { return c*9/5 + 32 },
	"f_to_c":                func(f float64) float64 { return (f - 32) * 5 / 9 },
	"c_to_f":                func(c float64) float64 { return c*9/5 + 32 },

	"miles_to_kilometers": mul(1.60934),
	"kilometers_to_miles": div(1.60934),
	"miles_to_km":         mul(1.60934),
	"km_to_miles":         div(1.60934),

	"feet_to_meters": mul(0.3048),
	"meters_to_feet": div(0.3048),
	"ft_to_m":        mul(0.3048),
	"m_to_ft":        div(0.3048),

	"inches_to_centimeters": mul(2.54),
	"centimeters_to_inches": div(2.54),

	"pounds_to_kilograms": mul(0.453592),
	"kilograms_to_pounds": div(0.453592),
	"lbs_to_kg":           mul(0.453592),
	"kg_to_lbs":           div(0.453592),

	"ounces_to_grams": mul(28.3495),
	"grams_to_ounces": div(28.3495),

	"gallons_to_liters": mul(3.78541),
	"liters_to_gallons": div(3.78541),
	"gal_to_l":          mul(3.78541),
	"l_to_gal":          div(3.78541),

	"cups_to_milliliters": mul(236.588),
	"milliliters_to_cups": div(236.588),
}

func mul(f float64) func(float64) float64 { return func(v float64) float64 { return v * f } }
func div(f float64) func(float64) float64 { return func(v float64) float64 { return v / f } }

// ConvertUnits applies a named conversion such as "miles_to_km" or
// "Feet to Meters".
func ConvertUnits(value float64, conversion string) (string, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(conversion)), " ", "_")
	fn, ok := conversions[key]
	if !ok {
		return "", fmt.Errorf("Unknown conversion type: %s", conversion)
	}
	from, to, _ := strings.Cut(key, "_to_")
	return fmt.Sprintf("%s %s equals %.2f %s",
		formatNumber(value),
		strings.ReplaceAll(from, "_", " "),
		fn(value),
		strings.ReplaceAll(to, "_", " "),
	), nil
}

// MaxDice caps a single roll.
const MaxDice = 100

var errInvalidDice = errors.New("Invalid dice expression. Please use the format 'XdY' (e.g., '2d6', '1d20').")

var diceExpr = regexp.MustCompile(`^\s*(\d+)[dD](\d+)`)

// Dice rolls XdY expressions.
type Dice struct {
	// IntN returns a value in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

// Roll evaluates expr and reports each die and the total.
func (d Dice) Roll(expr string) (string, error) {
	m := diceExpr.FindStringSubmatch(expr)
	if m == nil {
		return "", errInvalidDice
	}
	count, err1 := strconv.Atoi(m[1])
	sides, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return "", errInvalidDice
	}
	if count <= 0 || sides <= 0 {
		return "", errors.New("The number of dice and sides must be greater than zero.")
	}
	if count > MaxDice {
		return "", fmt.Errorf("Maximum %d dice allowed per roll.", MaxDice)
	}

	intN := d.IntN
	if intN == nil {
		intN = rand.IntN
	}
	rolls := make([]string, count)
	total := 0
	for i := range count {
		r := intN(sides) + 1
		total += r
		rolls[i] = strconv.Itoa(r)
	}
	return fmt.Sprintf("Rolling %dd%d: [%s]. Total: %d", count, sides, strings.Join(rolls, ", "), total), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
