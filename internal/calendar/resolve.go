package calendar

import "github.com/wolfman30/clinic-booking-bot/internal/clinic"

// Selection is what the caller picked.
type Selection struct {
	ServiceID      string
	ProfessionalID string
}

// ResolveCalendarID always returns a calendar: the professional's mapping
// first, then the service's, then the clinic default.
func ResolveCalendarID(cc *clinic.Context, sel Selection) string {
	if cc == nil {
		return clinic.DefaultCalendarID
	}
	if sel.ProfessionalID != "" {
		if id, ok := cc.Calendars.ByProfessional[sel.ProfessionalID]; ok && id != "" {
			return id
		}
	}
	if sel.ServiceID != "" {
		if id, ok := cc.Calendars.ByService[sel.ServiceID]; ok && id != "" {
			return id
		}
	}
	if cc.Calendars.Default != "" {
		return cc.Calendars.Default
	}
	return clinic.DefaultCalendarID
}
