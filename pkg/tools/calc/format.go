package calc

import (
	"fmt"
	"strconv"
	"strings"
)

// num renders a number in its shortest exact form: 6, 2.5, -0.125.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinNums(nums []float64, sep string) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = num(n)
	}
	return strings.Join(parts, sep)
}

func result(value, calculation string) string {
	return fmt.Sprintf("Result: %s\nCalculation: %s", value, calculation)
}

func factorialSteps(n int, r uint64) string {
	if n > 5 {
		return fmt.Sprintf("%d! = %d", n, r)
	}
	steps := "1"
	if n > 0 {
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = strconv.Itoa(i)
		}
		steps = strings.Join(parts, " × ")
	}
	return fmt.Sprintf("%d! = %s = %d", n, steps, r)
}

func renderStats(s Stats) string {
	return fmt.Sprintf(`Statistics for %d numbers:
  Count:  %d
  Sum:    %s
  Mean:   %.4f
  Median: %s
  Min:    %s
  Max:    %s
  Range:  %s`, s.Count, s.Count, num(s.Sum), s.Mean, num(s.Median), num(s.Min), num(s.Max), num(s.Range))
}

func noConversion(value, unit string) string {
	return fmt.Sprintf("Result: %s %s\n(No conversion needed)", value, unit)
}
