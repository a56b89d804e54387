package listing

import "time"

// Listing represents one unit of ticket inventory offered on the event page
type Listing struct {
	Id           string    `json:"id"`
	Tier         string    `json:"tier,omitempty"`
	Price        string    `json:"price,omitempty"`
	Quantity     string    `json:"quantity,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Page represents a parsed snapshot of the event page
type Page struct {
	EventName string    `json:"event_name"`
	Venue     string    `json:"venue,omitempty"`
	City      string    `json:"city,omitempty"`
	EventDate string    `json:"event_date,omitempty"`
	Listings  []Listing `json:"listings"`
}

// Location returns a display string combining venue and city
func (p *Page) Location() string {
	switch {
	case p.Venue != "" && p.City != "":
		return p.Venue + ", " + p.City
	case p.Venue != "":
		return p.Venue
	case p.City != "":
		return p.City
	default:
		return "Unknown"
	}
}
