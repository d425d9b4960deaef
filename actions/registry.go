package actions

// DefaultHandlers builds the explicit action table the executor is
// constructed with. book_slot and schedule_appointment are the same
// operation under both names lists for it.
func DefaultHandlers(booker *Booker) map[string]Handler {
	return map[string]Handler{
		"create_order":         CreateOrder,
		"schedule_visit":       ScheduleVisit,
		"book_slot":            booker.BookAppointment,
		"schedule_appointment": booker.BookAppointment,
		"send_reminder":        SendReminder,
	}
}
