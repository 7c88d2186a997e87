// Package calc implements the calculator and unit-conversion tools.
package calc

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	ErrDivisionByZero    = errors.New("Division by zero")
	ErrFactorialNegative = errors.New("Factorial undefined for negative numbers")
	ErrFactorialTooLarge = errors.New("Factorial limited to n ≤ 20")
	ErrNegativeSqrt      = errors.New("Cannot calculate square root of negative number")
	ErrEmptyInput        = errors.New("At least one number is required")
	ErrUndefined         = errors.New("Result is undefined")
	ErrUnknownUnit       = errors.New("Unknown unit")
	ErrUnknownFunction   = errors.New("Unknown trigonometric function")
	ErrInvalidPrecision  = errors.New("Precision must be between 0 and 15")
)

// MaxFactorial is the largest n whose factorial fits in a uint64.
const MaxFactorial = 20

func Add(nums ...float64) float64 {
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum
}

func Subtract(a, b float64) float64 {
	return a - b
}

func Multiply(nums ...float64) float64 {
	product := 1.0
	for _, n := range nums {
		product *= n
	}
	return product
}

// Divide returns a/b rounded half away from zero to precision decimals.
func Divide(a, b float64, precision int) (float64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	if precision < 0 || precision > 15 {
		return 0, ErrInvalidPrecision
	}
	scale := math.Pow(10, float64(precision))
	return math.Round(a/b*scale) / scale, nil
}

func Factorial(n int) (uint64, error) {
	if n < 0 {
		return 0, ErrFactorialNegative
	}
	if n > MaxFactorial {
		return 0, ErrFactorialTooLarge
	}
	result := uint64(1)
	for i := 2; i <= n; i++ {
		result *= uint64(i)
	}
	return result, nil
}

func Power(base, exponent float64) (float64, error) {
	r := math.Pow(base, exponent)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, ErrUndefined
	}
	return r, nil
}

func SquareRoot(x float64) (float64, error) {
	if x < 0 {
		return 0, ErrNegativeSqrt
	}
	return math.Sqrt(x), nil
}

// Percentage returns percent% of of.
func Percentage(percent, of float64) float64 {
	return percent / 100 * of
}

func Average(nums ...float64) (float64, error) {
	if len(nums) == 0 {
		return 0, ErrEmptyInput
	}
	return Add(nums...) / float64(len(nums)), nil
}

// Stats summarizes a list of numbers.
type Stats struct {
	Count  int
	Sum    float64
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	Range  float64
}

func Statistics(nums ...float64) (Stats, error) {
	if len(nums) == 0 {
		return Stats{}, ErrEmptyInput
	}
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)

	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	sum := Add(sorted...)
	return Stats{
		Count:  n,
		Sum:    sum,
		Mean:   sum / float64(n),
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Range:  sorted[n-1] - sorted[0],
	}, nil
}

// Trig evaluates sin, cos or tan. unit is "degrees" (default) or "radians".
func Trig(fn string, angle float64, unit string) (float64, error) {
	rad := angle
	switch strings.ToLower(unit) {
	case "", "degrees", "deg":
		rad = angle * math.Pi / 180
	case "radians", "rad":
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, unit)
	}

	switch strings.ToLower(fn) {
	case "sin":
		return math.Sin(rad), nil
	case "cos":
		return math.Cos(rad), nil
	case "tan":
		return math.Tan(rad), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownFunction, fn)
	}
}

// ConvertTemperature converts between C, F and K through Celsius.
func ConvertTemperature(value float64, from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)

	var celsius float64
	switch from {
	case "C":
		celsius = value
	case "F":
		celsius = (value - 32) * 5 / 9
	case "K":
		celsius = value - 273.15
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, from)
	}

	switch to {
	case "C":
		return celsius, nil
	case "F":
		return celsius*9/5 + 32, nil
	case "K":
		return celsius + 273.15, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, to)
	}
}

var (
	toMeters   = map[string]float64{"m": 1, "ft": 0.3048, "mi": 1609.34, "km": 1000}
	fromMeters = map[string]float64{"m": 1, "ft": 3.28084, "mi": 0.000621371, "km": 0.001}
	unitNames  = map[string]string{"m": "meters", "ft": "feet", "mi": "miles", "km": "kilometers"}
)

// ConvertDistance converts between m, ft, mi and km through meters.
func ConvertDistance(value float64, from, to string) (float64, error) {
	from, to = strings.ToLower(from), strings.ToLower(to)
	in, ok := toMeters[from]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, from)
	}
	out, ok := fromMeters[to]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, to)
	}
	return value * in * out, nil
}

// Fixed demonstration rates, not live market data.
var exchangeRates = map[string]map[string]float64{
	"USD": {"USD": 1.0, "EUR": 0.92, "GBP": 0.79},
	"EUR": {"USD": 1.09, "EUR": 1.0, "GBP": 0.86},
	"GBP": {"USD": 1.27, "EUR": 1.16, "GBP": 1.0},
}

var currencySymbols = map[string]string{"USD": "$", "EUR": "€", "GBP": "£"}

// ConvertCurrency returns the converted amount and the rate used.
func ConvertCurrency(amount float64, from, to string) (result, rate float64, err error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	rates, ok := exchangeRates[from]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownUnit, from)
	}
	rate, ok = rates[to]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownUnit, to)
	}
	return amount * rate, rate, nil
}
