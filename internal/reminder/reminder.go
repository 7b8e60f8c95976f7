// Package reminder reenvia o link de confirmação para consultas pendentes de um dia.
package reminder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/format"
)

// Lister lista todas as consultas. consultation.Store e consultation.Service servem.
type Lister interface {
	List(ctx context.Context) ([]consultation.Consultation, error)
}

// RangeLister é usado quando o store consegue filtrar no banco.
type RangeLister interface {
	ListBetween(ctx context.Context, from, to time.Time, status consultation.Status) ([]consultation.Consultation, error)
}

// Resender envia de novo o link. Implementado por *consultation.Service.
type Resender interface {
	Resend(ctx context.Context, c consultation.Consultation) error
}

type Result struct {
	Due    int `json:"due"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Window retorna [início, fim) do dia now+daysAhead no fuso loc.
func Window(now time.Time, loc *time.Location, daysAhead int) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, daysAhead)
	return start, start.AddDate(0, 0, 1)
}

// Due mantém só as consultas pendentes, com token não usado, dentro de [from, to).
func Due(all []consultation.Consultation, from, to time.Time) []consultation.Consultation {
	out := []consultation.Consultation{}
	for _, c := range all {
		if c.Status != consultation.StatusPending || c.ConsumedAt != nil {
			continue
		}
		if c.ConsultationDate.Before(from) || !c.ConsultationDate.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Run busca as consultas do dia e reenvia o link. Falha em uma consulta é registrada e não
// interrompe as demais. Com dryRun só conta.
func Run(ctx context.Context, lister Lister, sender Resender, from, to time.Time, dryRun bool, log *logrus.Entry) (Result, error) {
	var (
		all []consultation.Consultation
		err error
	)
	if rl, ok := lister.(RangeLister); ok {
		all, err = rl.ListBetween(ctx, from, to, consultation.StatusPending)
	} else {
		all, err = lister.List(ctx)
	}
	if err != nil {
		return Result{}, err
	}
	due := Due(all, from, to)
	res := Result{Due: len(due)}
	if dryRun || sender == nil {
		log.WithField("due", res.Due).Info("[reminder] dry-run, nada enviado")
		return res, nil
	}
	for _, c := range due {
		entry := log.WithFields(logrus.Fields{"consultation_id": c.ID, "phone": format.MaskPhone(c.PhoneNumber)})
		if err := sender.Resend(ctx, c); err != nil {
			entry.WithError(err).Warn("[reminder] envio falhou")
			res.Failed++
			continue
		}
		entry.Info("[reminder] link reenviado")
		res.Sent++
	}
	return res, nil
}
