package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loomwire/loomwire/llm"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/storage"
)

// Composer renders every user-facing line. Free-form text goes through the
// LLM with a per-vertical system prompt grounded strictly in supplied
// context; the fixed lines (greetings, slot questions, handoffs) are
// templates so they stay deterministic.
type Composer struct {
	LLM   llm.Provider
	Hours storage.BusinessHours
}

func NewComposer(provider llm.Provider, hours storage.BusinessHours) *Composer {
	return &Composer{LLM: provider, Hours: hours}
}

var greetings = map[Vertical]string{
	VerticalFoodService:      "¡Hola! Soy el asistente del local. ¿Qué te gustaría pedir hoy?",
	VerticalRealEstate:       "¡Hola! Te ayudo a encontrar tu próxima propiedad. ¿Buscás comprar o alquilar?",
	VerticalPersonalServices: "¡Hola! Te ayudo a reservar un turno. ¿Qué servicio necesitás?",
}

func (c *Composer) Greeting(v Vertical) string {
	if g, ok := greetings[v]; ok {
		return g
	}
	return "¡Hola! ¿En qué puedo ayudarte?"
}

var slotQuestions = map[string]string{
	"category":          "¿Qué categoría te interesa? (pizzas, empanadas, bebidas...)",
	"items":             "¿Qué productos querés pedir y cuántos?",
	"delivery_method":   "¿Lo pasás a buscar o te lo enviamos a domicilio?",
	"payment_method":    "¿Cómo vas a pagar? (efectivo, tarjeta, transferencia)",
	"address":           "¿A qué dirección te lo enviamos?",
	"operation":         "¿Buscás comprar o alquilar?",
	"type":              "¿Qué tipo de propiedad buscás? (casa, departamento...)",
	"zone":              "¿En qué zona o barrio?",
	"visit_property_id": "¿Cuál de las propiedades te gustaría visitar?",
	"visit_datetime":    "¿Qué día y horario te queda cómodo para la visita?",
	"service_type":      "¿Qué servicio querés reservar?",
	"preferred_date":    "¿Para qué fecha? (por ejemplo 2025-10-06)",
	"preferred_time":    "¿A qué hora te queda bien?",
	"client_name":       "¿A nombre de quién hago la reserva?",
}

// SlotQuestion asks one focused question for the highest-priority missing
// slot.
func (c *Composer) SlotQuestion(v Vertical, slot string) string {
	if q, ok := slotQuestions[slot]; ok {
		return q
	}
	return fmt.Sprintf("¿Me podrías indicar %s?", strings.ReplaceAll(slot, "_", " "))
}

func (c *Composer) Handoff(v Vertical) string {
	return "Te derivo con una persona del equipo para ayudarte mejor. ¡Un momento por favor!"
}

// Confirmation is the short line that accompanies an EXECUTE_ACTION turn.
func (c *Composer) Confirmation(v Vertical, slots Slots) string {
	switch v {
	case VerticalFoodService:
		return "¡Perfecto! Confirmo tu pedido."
	case VerticalRealEstate:
		return "¡Listo! Agendo la visita."
	case VerticalPersonalServices:
		return "¡Genial! Reservo tu turno."
	}
	return "¡Listo! Lo confirmo."
}

var composeSystemPrompts = map[Vertical]string{
	VerticalFoodService: "Sos el asistente de un local de comida por WhatsApp. " +
		"Respondé en español rioplatense, breve y cordial. " +
		"Basate EXCLUSIVAMENTE en el contexto provisto: nunca inventes precios, productos ni horarios. " +
		"Si el contexto no alcanza, decí que vas a consultar.",
	VerticalRealEstate: "Sos el asistente de una inmobiliaria por WhatsApp. " +
		"Respondé en español, breve y profesional. " +
		"Basate EXCLUSIVAMENTE en el contexto provisto: nunca inventes propiedades, precios ni direcciones.",
	VerticalPersonalServices: "Sos el asistente de reservas de un negocio de servicios por WhatsApp. " +
		"Respondé en español, breve y amable. " +
		"Basate EXCLUSIVAMENTE en el contexto provisto: nunca inventes servicios, precios, horarios ni nombres del personal.",
}

// Answer composes the free-form reply for an ANSWER turn, grounded in
// retrieved context. Personal-services requests outside business hours are
// refused with an in-hours proposal before the model is even consulted.
func (c *Composer) Answer(ctx context.Context, snapshot ConversationSnapshot) string {
	if snapshot.Vertical == VerticalPersonalServices {
		if refusal := c.offHoursRefusal(snapshot.Slots); refusal != "" {
			return refusal
		}
	}

	if c.LLM == nil {
		return c.groundedFallback(snapshot)
	}

	system := composeSystemPrompts[snapshot.Vertical]
	var sb strings.Builder
	if len(snapshot.RetrievedContext) > 0 {
		sb.WriteString("Contexto:\n")
		for _, passage := range snapshot.RetrievedContext {
			sb.WriteString("- ")
			sb.WriteString(passage)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Mensaje del usuario: ")
	sb.WriteString(snapshot.UserInput)

	text, err := c.LLM.Complete(ctx, llm.Request{System: system, User: sb.String()})
	if err != nil {
		logrus.WithError(err).WithFields(observability.Fields{
			"component": "orchestrator",
		}).Warn("composition failed, using grounded fallback")
		return c.groundedFallback(snapshot)
	}
	return strings.TrimSpace(text)
}

// offHoursRefusal checks preferred_time against business hours and, when
// outside, refuses while proposing the in-hours window.
func (c *Composer) offHoursRefusal(slots Slots) string {
	if c.Hours.Open == "" || c.Hours.Close == "" {
		return ""
	}
	slot, ok := slots["preferred_time"]
	if !ok || slot.Text() == "" {
		return ""
	}
	requested, err := time.Parse("15:04", slot.Text())
	if err != nil {
		return ""
	}
	opensAt, err1 := time.Parse("15:04", c.Hours.Open)
	closesAt, err2 := time.Parse("15:04", c.Hours.Close)
	if err1 != nil || err2 != nil {
		return ""
	}
	if requested.Before(opensAt) || !requested.Before(closesAt) {
		return fmt.Sprintf(
			"A esa hora estamos cerrados. Atendemos de %s a %s, ¿te va bien algún horario dentro de esa franja?",
			c.Hours.Open, c.Hours.Close)
	}
	return ""
}

// groundedFallback answers without the model: quote the context or admit
// there is nothing to say, never invent.
func (c *Composer) groundedFallback(snapshot ConversationSnapshot) string {
	if len(snapshot.RetrievedContext) > 0 {
		return "Esto es lo que encontré:\n- " + strings.Join(snapshot.RetrievedContext, "\n- ")
	}
	return "No tengo esa información a mano, dame un momento y lo consulto."
}
