package throttle

import "strconv"

// formatação dos headers X-RateLimit-* da API admin, sem notação científica.

func formatInt(v int) string { return strconv.Itoa(v) }

func formatSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64)
}
