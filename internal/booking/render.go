package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-bot/internal/clinic"
	"github.com/wolfman30/clinic-booking-bot/internal/flowstate"
)

var weekdayAbbrev = [...]string{"dom", "seg", "ter", "qua", "qui", "sex", "sáb"}

const (
	msgNoServices    = "No momento não há serviços disponíveis para agendamento online."
	msgAbandoned     = "Atendimento encerrado. Envie *agendar* quando quiser recomeçar."
	msgDiscarded     = "Tudo bem, o agendamento foi descartado. Envie *agendar* quando quiser recomeçar."
	msgAskConfirm    = "Não entendi. Responda *sim* para confirmar ou *não* para cancelar."
	msgInvalidChoice = "Não encontrei essa opção."
	msgKeptSelection = "Seus dados foram mantidos, responda *sim* para tentar novamente."
)

func (m *Manager) formatSlot(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return weekdayAbbrev[t.Weekday()] + " " + t.Format(m.timeFormat)
}

func greeting(cc *clinic.Context, name string) string {
	hello := "Olá"
	if name != "" {
		hello += ", " + firstName(name)
	}
	return fmt.Sprintf("%s! Aqui é o atendimento da %s. Para marcar uma consulta, responda *agendar*.", hello, cc.Name)
}

func serviceMenu(services []clinic.Service) string {
	var b strings.Builder
	b.WriteString("Qual serviço você deseja agendar?\n")
	for i, s := range services {
		fmt.Fprintf(&b, "%d. %s (%d min)\n", i+1, s.Name, int(s.Duration/time.Minute))
	}
	b.WriteString("\nResponda com o número da opção.")
	return b.String()
}

func (m *Manager) slotMenu(serviceName string, slots []flowstate.SlotChoice, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Horários disponíveis para %s:\n", serviceName)
	for i, s := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.formatSlot(s.Start, loc))
	}
	b.WriteString("\nResponda com o número do horário.")
	return b.String()
}

func (m *Manager) noSlots(serviceName string) string {
	return fmt.Sprintf("Não encontrei horários livres para %s nos próximos %d dias.", serviceName, m.daysAhead)
}

func (m *Manager) confirmPrompt(data flowstate.Data, name string, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("Confirma o agendamento?\n")
	fmt.Fprintf(&b, "Serviço: %s\n", data.ServiceName)
	fmt.Fprintf(&b, "Horário: %s\n", m.formatSlot(data.Slot.Start, loc))
	if name != "" {
		fmt.Fprintf(&b, "Nome: %s\n", name)
	}
	b.WriteString("\nResponda *sim* para confirmar ou *não* para cancelar.")
	return b.String()
}

func (m *Manager) confirmed(data flowstate.Data, loc *time.Location) string {
	return fmt.Sprintf("Agendamento confirmado! %s em %s. Até lá!", data.ServiceName, m.formatSlot(data.Slot.Start, loc))
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}
