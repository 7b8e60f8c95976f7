package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/healapp/backend/internal/consultation"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

type snapshotMessage struct {
	Type          string                      `json:"type"`
	Consultations []consultation.Consultation `json:"consultations"`
}

// StreamConsultations abre um WebSocket e envia a lista completa a cada mudança, começando pelo estado atual.
// O navegador passa o token em ?access_token= porque não consegue mandar Authorization no handshake.
func (h *Handler) StreamConsultations(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log().WithError(err).Warn("upgrade do websocket falhou")
		return
	}
	defer conn.Close()

	// guarda só o snapshot mais recente; um cliente lento pula os intermediários
	updates := make(chan []consultation.Consultation, 1)
	push := func(list []consultation.Consultation) {
		if list == nil {
			list = []consultation.Consultation{}
		}
		for {
			select {
			case updates <- list:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	sub, err := h.Service.Subscribe(r.Context(), push)
	if err != nil {
		h.log().WithError(err).Error("falha ao assinar consultas")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "Erro ao buscar dados"),
			time.Now().Add(streamWriteWait))
		return
	}
	defer sub.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-sub.Done():
			// feed de mudanças caiu ou o servidor está desligando; o cliente reconecta
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Atualizações interrompidas"),
				time.Now().Add(streamWriteWait))
			return
		case list := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(snapshotMessage{Type: "snapshot", Consultations: list}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
