package seed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/consultation"
)

const (
	defaultAdminEmail    = "admin@heal.local"
	defaultAdminPassword = "Admin123!"
)

// Users é o UserStore com contagem, implementado pelos três backends.
type Users interface {
	auth.UserStore
	CountUsers(ctx context.Context) (int, error)
}

// Run cria o admin padrão quando ainda não há nenhum usuário.
func Run(ctx context.Context, users Users, email, password string, log *logrus.Entry) error {
	n, err := users.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Debug("seed: usuários existem, nada a fazer")
		return nil
	}
	if email == "" {
		email = defaultAdminEmail
	}
	if password == "" {
		password = defaultAdminPassword
		log.Warn("seed: usando senha padrão do admin; defina SEED_ADMIN_PASSWORD")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := users.CreateUser(ctx, &auth.User{Email: email, Name: "Administrador", Role: auth.RoleAdmin, PasswordHash: hash}); err != nil {
		return err
	}
	log.WithField("email", email).Info("seed: admin criado")
	return nil
}

// Demo grava consultas de exemplo direto no store (sem notificação) quando ele está vazio.
// Só usado em desenvolvimento.
func Demo(ctx context.Context, store consultation.Store, loc *time.Location, now time.Time, log *logrus.Entry) error {
	existing, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	day := time.Date(now.In(loc).Year(), now.In(loc).Month(), now.In(loc).Day(), 0, 0, 0, 0, loc)
	demo := []consultation.Consultation{
		{PatientName: "Ana Souza", Document: "12345678901", Email: "ana@exemplo.com", PhoneNumber: "11999998888",
			ConsultationType: "pre_natal", ProfessionalName: "Dra. Helena Costa", ConsultationDate: day.AddDate(0, 0, 1).Add(9 * time.Hour),
			Status: consultation.StatusPending},
		{PatientName: "Bruno Lima", Document: "98765432100", Email: "bruno@exemplo.com", PhoneNumber: "21988887777",
			ConsultationType: "retorno", ProfessionalName: "Dr. Paulo Mendes", ConsultationDate: day.Add(14 * time.Hour),
			Status: consultation.StatusWaiting},
		{PatientName: "Carla Dias", Document: "11122233344", Email: "carla@exemplo.com", PhoneNumber: "3133334444",
			ConsultationType: "primeira_consulta", ProfessionalName: "Dra. Helena Costa", ConsultationDate: day.AddDate(0, 0, -1).Add(10 * time.Hour),
			Status: consultation.StatusAttended},
	}
	for i := range demo {
		demo[i].ConfirmationToken = uuid.NewString()
		if err := store.Create(ctx, &demo[i]); err != nil {
			return err
		}
	}
	log.WithField("count", len(demo)).Info("seed: consultas de exemplo criadas")
	return nil
}
