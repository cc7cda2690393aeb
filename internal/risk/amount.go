package risk

import (
	"strconv"
	"strings"
)

// currencyStripper убирает символы валют и разделители тысяч:
// "$10,000.00" -> "10000.00". Письма приходят с любым форматированием,
// поэтому парсер обязан быть толерантным.
var currencyStripper = strings.NewReplacer(
	"$", "", "€", "", "£", "", "¥", "",
	",", "", " ", "", " ", "",
)

// ParseAmount приводит значение параметра к float64.
// Поддерживает числа из JSON (float64/int) и строки с символами валют.
func ParseAmount(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		cleaned := strings.TrimSpace(currencyStripper.Replace(t))
		if cleaned == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
