// Package format normaliza, valida e mascara documentos (CPF), telefones brasileiros e e-mails.
package format

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	cpfDigits   = 11
	phoneDigits = 11
)

// OnlyDigits remove tudo que não for dígito ASCII.
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CPF aplica a máscara progressiva 000.000.000-00 enquanto o usuário digita.
// Entrada com mais de 11 dígitos é truncada.
func CPF(s string) string {
	d := truncate(OnlyDigits(s), cpfDigits)
	switch {
	case len(d) <= 3:
		return d
	case len(d) <= 6:
		return d[:3] + "." + d[3:]
	case len(d) <= 9:
		return d[:3] + "." + d[3:6] + "." + d[6:]
	default:
		return d[:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:]
	}
}

// Phone aplica a máscara (00) 0000-0000 ou (00) 00000-0000 para celulares com 11 dígitos.
func Phone(s string) string {
	d := truncate(OnlyDigits(s), phoneDigits)
	if len(d) <= 2 {
		return d
	}
	area, rest := d[:2], d[2:]
	split := 4
	if len(d) == phoneDigits {
		split = 5
	}
	if len(rest) > split {
		rest = rest[:split] + "-" + rest[split:]
	}
	return "(" + area + ") " + rest
}

// MaskPhone esconde o meio do número para logs: 11*****8888.
func MaskPhone(s string) string {
	d := OnlyDigits(s)
	if len(d) <= 6 {
		return strings.Repeat("*", len(d))
	}
	return d[:2] + strings.Repeat("*", len(d)-6) + d[len(d)-4:]
}

// ValidEmail é a única validação de e-mail do backend (cadastro de consulta e da equipe).
func ValidEmail(e string) bool {
	return emailRegex.MatchString(e)
}

// MaskEmail mantém a primeira letra e o domínio para logs: a***@x.com.
func MaskEmail(e string) string {
	at := strings.LastIndex(e, "@")
	if at <= 0 {
		return strings.Repeat("*", len(e))
	}
	return e[:1] + strings.Repeat("*", 3) + e[at:]
}

// DocumentHash retorna SHA-256 em hex do documento normalizado. Usado em logs no lugar do CPF.
func DocumentHash(doc string) string {
	h := sha256.Sum256([]byte(OnlyDigits(doc)))
	return hex.EncodeToString(h[:])
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
