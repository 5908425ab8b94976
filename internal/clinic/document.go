package clinic

import "encoding/json"

// Document is the stored, loosely-typed clinic configuration. It never
// leaves this package un-normalized.
type Document struct {
	ID            string                   `json:"id"`
	Name          string                   `json:"name"`
	Timezone      string                   `json:"timezone"`
	BusinessHours map[string]DocumentHours `json:"business_hours"`
	AlwaysOpen    bool                     `json:"always_open"`
	Emergency24h  bool                     `json:"emergency_24h"`
	Services      []DocumentService        `json:"services"`
	Professionals []DocumentProfessional   `json:"professionals"`

	CalendarMappings        []DocumentCalendarMapping `json:"calendar_mappings"`
	CalendarsByService      map[string]string         `json:"calendars_by_service"`
	CalendarsByProfessional map[string]string         `json:"calendars_by_professional"`
	DefaultCalendarID       string                    `json:"default_calendar_id"`

	Policies   DocumentPolicies `json:"policies"`
	WhatsApp   DocumentWhatsApp `json:"whatsapp"`
	AdminEmail string           `json:"admin_email"`
}

type DocumentHours struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	Closed bool   `json:"closed"`
}

type DocumentService struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Category        string `json:"category"`
}

type DocumentProfessional struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DocumentCalendarMapping struct {
	Level      string `json:"level"`
	Key        string `json:"key"`
	CalendarID string `json:"calendar_id"`
}

type DocumentPolicies struct {
	MinLeadHours     float64  `json:"min_lead_hours"`
	MaxLeadDays      int      `json:"max_lead_days"`
	CategoryPriority []string `json:"category_priority"`
	SlotStepMinutes  int      `json:"slot_step_minutes"`
	MaxSlots         int      `json:"max_slots"`
}

type DocumentWhatsApp struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
}

// ParseDocument decodes a raw JSON clinic document.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
