package consultation

import "sync"

// hub distribui snapshots para os assinantes.
//
// Cada snapshot carrega a sequência tirada antes do List que o produziu. Um assinante
// descarta sequências menores que a última entregue, então um List lento nunca
// sobrescreve um snapshot mais novo.
type hub struct {
	mu     sync.Mutex
	nextID int
	seq    uint64
	subs   map[int]*Subscription
}

func newHub() *hub {
	return &hub{subs: make(map[int]*Subscription)}
}

// Subscription é uma assinatura de snapshots. Done fecha quando a assinatura termina,
// seja por Close, seja porque o feed de mudanças do store caiu.
type Subscription struct {
	h    *hub
	id   int
	fn   func([]Consultation)
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	last uint64
}

func (h *hub) add(fn func([]Consultation)) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := &Subscription{h: h, id: h.nextID, fn: fn, done: make(chan struct{})}
	h.nextID++
	h.subs[sub.id] = sub
	return sub
}

// next reserva a sequência do próximo snapshot. Deve ser chamado antes do List.
func (h *hub) next() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	return h.seq
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) snapshot() []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	return subs
}

// broadcast chama os assinantes fora do lock do hub.
func (h *hub) broadcast(seq uint64, list []Consultation) {
	for _, sub := range h.snapshot() {
		sub.deliver(seq, list)
	}
}

func (h *hub) closeAll() {
	for _, sub := range h.snapshot() {
		sub.Close()
	}
}

// deliver entrega uma cópia de list se seq for mais novo que o último snapshot entregue.
func (s *Subscription) deliver(seq uint64, list []Consultation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.last {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	s.last = seq
	cp := make([]Consultation, len(list))
	copy(cp, list)
	s.fn(cp)
}

// Done fecha quando a assinatura termina.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close remove o assinante. Chamar mais de uma vez é seguro.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.h.mu.Lock()
		delete(s.h.subs, s.id)
		s.h.mu.Unlock()
		close(s.done)
	})
}
