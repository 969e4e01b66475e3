package notify

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/example/reservation-notifier/internal/models"
)

// Placeholders used when a reservation or driver record lacks a field.
const (
	FallbackClientName = "Client"
	FallbackDriverName = "Votre chauffeur"
	FallbackPhone      = "Non disponible"
	FallbackTripPoint  = "Non spécifié"
)

// dateLayouts mirrors the default date-time rendering of the locales we
// send to, keyed by base language.
var dateLayouts = map[string]string{
	"fr": "02/01/2006 15:04:05",
	"en": "1/2/2006, 3:04:05 PM",
	"de": "02.01.2006, 15:04:05",
	"es": "2/1/2006, 15:04:05",
	"it": "2/1/2006, 15:04:05",
	"nl": "2-1-2006, 15:04:05",
	"pt": "02/01/2006, 15:04:05",
}

// Formatter renders dates for a single locale and time zone.
type Formatter struct {
	tag    language.Tag
	layout string
	loc    *time.Location
}

func NewFormatter(locale, timezone string) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	loc := time.UTC
	if timezone != "" {
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}
	base, _ := tag.Base()
	layout, ok := dateLayouts[base.String()]
	if !ok {
		layout = "2006-01-02 15:04:05"
	}
	return &Formatter{tag: tag, layout: layout, loc: loc}, nil
}

func (f *Formatter) Locale() string { return f.tag.String() }

func (f *Formatter) Date(t time.Time) string { return t.In(f.loc).Format(f.layout) }

// Price always renders two decimals.
func (f *Formatter) Price(p float64) string { return strconv.FormatFloat(p, 'f', 2, 64) }

// RenderData is the flat set of values substituted into every template.
type RenderData struct {
	ReservationID   string
	ClientName      string
	DriverName      string
	CounterpartName string
	DriverPhone     string
	TripFrom        string
	TripTo          string
	Date            string
	Price           string
	Status          string
}

func (d RenderData) Map() map[string]any {
	return map[string]any{
		"reservationId":   d.ReservationID,
		"clientName":      d.ClientName,
		"driverName":      d.DriverName,
		"counterpartName": d.CounterpartName,
		"driverPhone":     d.DriverPhone,
		"tripFrom":        d.TripFrom,
		"tripTo":          d.TripTo,
		"date":            d.Date,
		"price":           d.Price,
		"status":          d.Status,
	}
}

// BuildRenderData never fails: every missing field degrades to a placeholder.
func BuildRenderData(role models.Role, r models.Reservation, drv models.Driver, now time.Time, f *Formatter) RenderData {
	d := RenderData{
		ReservationID: r.ShortID(),
		ClientName:    FallbackClientName,
		DriverName:    FallbackDriverName,
		DriverPhone:   FallbackPhone,
		TripFrom:      FallbackTripPoint,
		TripTo:        FallbackTripPoint,
		Status:        string(r.Status),
	}
	if r.Client != nil && r.Client.Name != "" {
		d.ClientName = r.Client.Name
	}
	if drv.Name != "" {
		d.DriverName = drv.Name
	}
	if drv.Phone != "" {
		d.DriverPhone = drv.Phone
	}
	if r.Trip != nil {
		if r.Trip.From != "" {
			d.TripFrom = r.Trip.From
		}
		if r.Trip.To != "" {
			d.TripTo = r.Trip.To
		}
	}

	date := now
	if !r.Date.IsZero() {
		date = r.Date.Time
	}
	d.Date = f.Date(date)

	price := 0.0
	if r.Price != nil {
		price = *r.Price
	}
	d.Price = f.Price(price)

	if role == models.RoleDriver {
		d.CounterpartName = d.ClientName
	} else {
		d.CounterpartName = d.DriverName
	}
	return d
}
