package domain

import (
	"net"
	"strings"

	"github.com/goware/urlx"
	"golang.org/x/net/publicsuffix"
)

// DefaultKey é a chave de fallback; a configuração "default" sempre existe.
const DefaultKey = "default"

// KeyFromURL extrai a chave de partição do rate limit a partir de uma URL.
//
// Usa o domínio registrável (eTLD+1) da tabela de sufixos públicos, então
// "auctions.yahoo.co.jp" vira "yahoo.co.jp". Hosts sem eTLD+1 (IP, "localhost")
// usam o próprio host. Qualquer falha de parse devolve DefaultKey.
func KeyFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultKey
	}
	u, err := urlx.Parse(raw)
	if err != nil {
		return DefaultKey
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return DefaultKey
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return lastTwoLabels(host)
}

func lastTwoLabels(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
