package calc

import (
	"context"
	"fmt"
	"strings"

	"mcpchat/pkg/api"
	"mcpchat/pkg/tools"
)

type numbersArgs struct {
	Numbers []float64 `json:"numbers" validate:"required,min=2" jsonschema:"required,minItems=2" jsonschema_description:"Array of numbers (at least two)"`
}

type listArgs struct {
	Numbers []float64 `json:"numbers" validate:"required,min=1" jsonschema:"required,minItems=1" jsonschema_description:"Array of numbers"`
}

type pairArgs struct {
	A *float64 `json:"a" validate:"required" jsonschema:"required" jsonschema_description:"First number (minuend)"`
	B *float64 `json:"b" validate:"required" jsonschema:"required" jsonschema_description:"Second number (subtrahend)"`
}

type divideArgs struct {
	A         *float64 `json:"a" validate:"required" jsonschema:"required" jsonschema_description:"Number to be divided"`
	B         *float64 `json:"b" validate:"required" jsonschema:"required" jsonschema_description:"Number to divide by"`
	Precision *int     `json:"precision,omitempty" jsonschema_description:"Number of decimal places (default: 2)"`
}

type factorialArgs struct {
	N *int `json:"n" validate:"required" jsonschema:"required" jsonschema_description:"Non-negative integer to calculate factorial of (0-20)"`
}

type powerArgs struct {
	Base     *float64 `json:"base" validate:"required" jsonschema:"required" jsonschema_description:"Base number"`
	Exponent *float64 `json:"exponent" validate:"required" jsonschema:"required" jsonschema_description:"Exponent"`
}

type sqrtArgs struct {
	Number *float64 `json:"number" validate:"required" jsonschema:"required" jsonschema_description:"Number to find square root of"`
}

type percentageArgs struct {
	Percent *float64 `json:"percent" validate:"required" jsonschema:"required" jsonschema_description:"Percentage value"`
	Of      *float64 `json:"of" validate:"required" jsonschema:"required" jsonschema_description:"Base number"`
}

type trigArgs struct {
	Function string   `json:"function" validate:"required,oneof=sin cos tan" jsonschema:"required,enum=sin,enum=cos,enum=tan" jsonschema_description:"Trigonometric function to use"`
	Angle    *float64 `json:"angle" validate:"required" jsonschema:"required" jsonschema_description:"Angle value"`
	Unit     string   `json:"unit,omitempty" validate:"omitempty,oneof=degrees radians" jsonschema:"enum=degrees,enum=radians" jsonschema_description:"Unit of angle (default: degrees)"`
}

type conversionArgs struct {
	Value *float64 `json:"value" validate:"required" jsonschema:"required" jsonschema_description:"Distance value to convert"`
	From  string   `json:"from_unit" validate:"required" jsonschema:"required,enum=m,enum=ft,enum=mi,enum=km" jsonschema_description:"Source unit (m=meters, ft=feet, mi=miles, km=kilometers)"`
	To    string   `json:"to_unit" validate:"required" jsonschema:"required,enum=m,enum=ft,enum=mi,enum=km" jsonschema_description:"Target unit"`
}

type temperatureArgs struct {
	Value *float64 `json:"value" validate:"required" jsonschema:"required" jsonschema_description:"Temperature value"`
	From  string   `json:"from_unit" validate:"required,oneof=C F K" jsonschema:"required,enum=C,enum=F,enum=K" jsonschema_description:"Source unit (C=Celsius, F=Fahrenheit, K=Kelvin)"`
	To    string   `json:"to_unit" validate:"required,oneof=C F K" jsonschema:"required,enum=C,enum=F,enum=K" jsonschema_description:"Target unit"`
}

type currencyArgs struct {
	Amount *float64 `json:"amount" validate:"required" jsonschema:"required" jsonschema_description:"Amount to convert"`
	From   string   `json:"from_currency" validate:"required,oneof=USD EUR GBP" jsonschema:"required,enum=USD,enum=EUR,enum=GBP" jsonschema_description:"Source currency (USD=US Dollar, EUR=Euro, GBP=British Pound)"`
	To     string   `json:"to_currency" validate:"required,oneof=USD EUR GBP" jsonschema:"required,enum=USD,enum=EUR,enum=GBP" jsonschema_description:"Target currency"`
}

type historyArgs struct {
	Limit *int `json:"limit,omitempty" validate:"omitempty,gte=1,lte=100" jsonschema:"minimum=1,maximum=100" jsonschema_description:"Number of recent calculations to show (default: 10)"`
}

type noArgs struct{}

// NewTools returns every calculator tool. Each successful calculation is
// recorded in h.
func NewTools(h *History) []api.Tool {
	return []api.Tool{
		tools.NewTypedTool("add", "Add two or more numbers together",
			func(ctx context.Context, a numbersArgs) (string, error) {
				r := Add(a.Numbers...)
				h.Add(fmt.Sprintf("add(%s)", joinNums(a.Numbers, ", ")), num(r))
				return result(num(r), fmt.Sprintf("%s = %s", joinNums(a.Numbers, " + "), num(r))), nil
			}),

		tools.NewTypedTool("subtract", "Subtract second number from first number",
			func(ctx context.Context, a pairArgs) (string, error) {
				r := Subtract(*a.A, *a.B)
				h.Add(fmt.Sprintf("subtract(%s, %s)", num(*a.A), num(*a.B)), num(r))
				return result(num(r), fmt.Sprintf("%s - %s = %s", num(*a.A), num(*a.B), num(r))), nil
			}),

		tools.NewTypedTool("multiply", "Multiply two or more numbers",
			func(ctx context.Context, a numbersArgs) (string, error) {
				r := Multiply(a.Numbers...)
				h.Add(fmt.Sprintf("multiply(%s)", joinNums(a.Numbers, ", ")), num(r))
				return result(num(r), fmt.Sprintf("%s = %s", joinNums(a.Numbers, " × "), num(r))), nil
			}),

		tools.NewTypedTool("divide", "Divide first number by second number",
			func(ctx context.Context, a divideArgs) (string, error) {
				precision := 2
				if a.Precision != nil {
					precision = *a.Precision
				}
				r, err := Divide(*a.A, *a.B, precision)
				if err != nil {
					return "", err
				}
				h.Add(fmt.Sprintf("divide(%s, %s)", num(*a.A), num(*a.B)), num(r))
				return result(num(r), fmt.Sprintf("%s ÷ %s = %s", num(*a.A), num(*a.B), num(r))), nil
			}),

		tools.NewTypedTool("factorial", "Calculate factorial of a number (n!). Factorial is the product of all positive integers less than or equal to n.",
			func(ctx context.Context, a factorialArgs) (string, error) {
				r, err := Factorial(*a.N)
				if err != nil {
					return "", err
				}
				h.Add(fmt.Sprintf("factorial(%d)", *a.N), fmt.Sprint(r))
				return result(fmt.Sprint(r), factorialSteps(*a.N, r)), nil
			}),

		tools.NewTypedTool("power", "Raise a number to a power (a^b)",
			func(ctx context.Context, a powerArgs) (string, error) {
				r, err := Power(*a.Base, *a.Exponent)
				if err != nil {
					return "", err
				}
				h.Add(fmt.Sprintf("power(%s, %s)", num(*a.Base), num(*a.Exponent)), num(r))
				return result(num(r), fmt.Sprintf("%s^%s = %s", num(*a.Base), num(*a.Exponent), num(r))), nil
			}),

		tools.NewTypedTool("square_root", "Calculate square root of a number",
			func(ctx context.Context, a sqrtArgs) (string, error) {
				r, err := SquareRoot(*a.Number)
				if err != nil {
					return "", err
				}
				h.Add(fmt.Sprintf("sqrt(%s)", num(*a.Number)), num(r))
				return result(num(r), fmt.Sprintf("√%s = %s", num(*a.Number), num(r))), nil
			}),

		tools.NewTypedTool("percentage", "Calculate percentage (what is X% of Y?)",
			func(ctx context.Context, a percentageArgs) (string, error) {
				r := Percentage(*a.Percent, *a.Of)
				h.Add(fmt.Sprintf("percentage(%s, %s)", num(*a.Percent), num(*a.Of)), num(r))
				return result(num(r), fmt.Sprintf("%s%% of %s = %s", num(*a.Percent), num(*a.Of), num(r))), nil
			}),

		tools.NewTypedTool("average", "Calculate the average (mean) of numbers",
			func(ctx context.Context, a listArgs) (string, error) {
				r, err := Average(a.Numbers...)
				if err != nil {
					return "", err
				}
				h.Add(fmt.Sprintf("average(%s)", joinNums(a.Numbers, ", ")), num(r))
				return fmt.Sprintf("Result: %s\nAverage of %d numbers: %s", num(r), len(a.Numbers), num(r)), nil
			}),

		tools.NewTypedTool("statistics", "Calculate comprehensive statistics (mean, median, min, max, sum)",
			func(ctx context.Context, a listArgs) (string, error) {
				s, err := Statistics(a.Numbers...)
				if err != nil {
					return "", err
				}
				h.Add(fmt.Sprintf("statistics(%d numbers)", s.Count), fmt.Sprintf("mean %.4f", s.Mean))
				return renderStats(s), nil
			}),

		tools.NewTypedTool("trigonometry", "Calculate sin, cos, or tan of an angle",
			func(ctx context.Context, a trigArgs) (string, error) {
				unit := a.Unit
				if unit == "" {
					unit = "degrees"
				}
				r, err := Trig(a.Function, *a.Angle, unit)
				if err != nil {
					return "", err
				}
				suffix := "°"
				if unit == "radians" {
					suffix = " rad"
				}
				h.Add(fmt.Sprintf("%s(%s %s)", a.Function, num(*a.Angle), unit), fmt.Sprintf("%.6f", r))
				return fmt.Sprintf("Result: %.6f\nCalculation: %s(%s%s) = %.6f", r, a.Function, num(*a.Angle), suffix, r), nil
			}),

		tools.NewTypedTool("convert_temperature", "Convert temperature between Celsius, Fahrenheit, and Kelvin",
			func(ctx context.Context, a temperatureArgs) (string, error) {
				if a.From == a.To {
					return noConversion(num(*a.Value), a.To), nil
				}
				r, err := ConvertTemperature(*a.Value, a.From, a.To)
				if err != nil {
					return "", err
				}
				h.Add(fmt.Sprintf("convert(%s%s to %s)", num(*a.Value), a.From, a.To), fmt.Sprintf("%.2f", r))
				return fmt.Sprintf("Result: %.2f %s\nConversion: %s %s = %.2f %s", r, a.To, num(*a.Value), a.From, r, a.To), nil
			}),

		tools.NewTypedTool("convert_distance", "Convert between meters, feet, miles, and kilometers",
			func(ctx context.Context, a conversionArgs) (string, error) {
				from, to := strings.ToLower(a.From), strings.ToLower(a.To)
				if from == to {
					if _, ok := toMeters[from]; ok {
						return noConversion(num(*a.Value), to), nil
					}
				}
				r, err := ConvertDistance(*a.Value, from, to)
				if err != nil {
					return "", err
				}
				h.Add(fmt.Sprintf("convert(%s %s to %s)", num(*a.Value), from, to), fmt.Sprintf("%.4f", r))
				return fmt.Sprintf("Result: %.4f %s\n\nConversion: %s %s = %.4f %s", r, to, num(*a.Value), unitNames[from], r, unitNames[to]), nil
			}),

		tools.NewTypedTool("convert_currency", "Convert between USD, EUR, and GBP using fixed demonstration exchange rates",
			func(ctx context.Context, a currencyArgs) (string, error) {
				if a.From == a.To {
					return noConversion(fmt.Sprintf("%.2f", *a.Amount), a.To), nil
				}
				r, rate, err := ConvertCurrency(*a.Amount, a.From, a.To)
				if err != nil {
					return "", err
				}
				h.Add(fmt.Sprintf("convert(%s %s to %s)", num(*a.Amount), a.From, a.To), fmt.Sprintf("%.2f", r))
				fromSym, toSym := currencySymbols[a.From], currencySymbols[a.To]
				return fmt.Sprintf("Result: %s%.2f %s\nConversion: %s%.2f %s = %s%.2f %s\nExchange Rate: 1 %s = %.4f %s\n\nNote: Using approximate exchange rates for demonstration.",
					toSym, r, a.To, fromSym, *a.Amount, a.From, toSym, r, a.To, a.From, rate, a.To), nil
			}),

		tools.NewTypedTool("history", "View calculation history for this session",
			func(ctx context.Context, a historyArgs) (string, error) {
				limit := 10
				if a.Limit != nil {
					limit = *a.Limit
				}
				return h.Render(limit), nil
			}),

		tools.NewTypedTool("clear_history", "Clear the calculation history",
			func(ctx context.Context, a noArgs) (string, error) {
				return fmt.Sprintf("Cleared %d calculations from history.", h.Clear()), nil
			}),
	}
}
