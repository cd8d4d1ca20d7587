// ABOUTME: Travel pack: flight search over a fixed catalog and bookings in the store
// ABOUTME: Flights repeat daily, so any future date has the same departures

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/tools"
)

// Flight is one daily departure in the catalog.
type Flight struct {
	Number      string `json:"flight_id"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Departs     string `json:"departs"` // HH:MM local to origin
	Duration    string `json:"duration"`
	PriceUSD    int    `json:"price_usd"`
}

// catalog is the fixed set of daily departures.
var catalog = []Flight{
	{"WG101", "SFO", "JFK", "07:00", "5h30m", 329},
	{"WG103", "SFO", "JFK", "13:15", "5h25m", 289},
	{"WG105", "SFO", "JFK", "22:40", "5h15m", 249},
	{"WG102", "JFK", "SFO", "08:30", "6h20m", 319},
	{"WG104", "JFK", "SFO", "17:45", "6h15m", 299},
	{"WG201", "JFK", "LHR", "19:00", "7h05m", 612},
	{"WG202", "LHR", "JFK", "11:20", "8h10m", 588},
	{"WG301", "LHR", "OSL", "09:10", "2h05m", 142},
	{"WG302", "OSL", "LHR", "15:35", "2h10m", 138},
	{"WG401", "SFO", "NRT", "11:50", "11h20m", 874},
	{"WG402", "NRT", "SFO", "16:30", "9h45m", 812},
}

// ErrUnknownFlight is returned when a flight number is not in the catalog.
var ErrUnknownFlight = errors.New("unknown flight")

// FindFlight returns the catalog entry for a flight number.
func FindFlight(number string) (Flight, bool) {
	for _, f := range catalog {
		if strings.EqualFold(f.Number, number) {
			return f, true
		}
	}
	return Flight{}, false
}

// TravelPack creates the travel pack.
func TravelPack(s store.BookingStore) *tools.Pack {
	t := &travelHandlers{store: s, now: time.Now}
	return &tools.Pack{
		ID: "builtin:travel",
		Tools: []*tools.Tool{
			tool("search_flights", "Search flights between two airports on a date",
				`{"type":"object","properties":{"origin":{"type":"string","pattern":"^[A-Za-z]{3}$"},"destination":{"type":"string","pattern":"^[A-Za-z]{3}$"},"date":{"type":"string","description":"YYYY-MM-DD"}},"required":["origin","destination","date"]}`,
				t.SearchFlights),
			tool("book_flight", "Book a seat on a flight",
				`{"type":"object","properties":{"flight_id":{"type":"string"},"date":{"type":"string","description":"YYYY-MM-DD"},"passenger":{"type":"string","minLength":1}},"required":["flight_id","date","passenger"]}`,
				t.BookFlight),
			tool("list_bookings", "List the user's flight bookings",
				`{"type":"object","properties":{}}`,
				t.ListBookings),
			tool("cancel_booking", "Cancel a flight booking",
				`{"type":"object","properties":{"booking_id":{"type":"string"}},"required":["booking_id"]}`,
				t.CancelBooking),
		},
	}
}

type travelHandlers struct {
	store store.BookingStore
	now   func() time.Time
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// departure combines a travel date with a flight's departure time.
func departure(date time.Time, f Flight) time.Time {
	hm, _ := time.Parse("15:04", f.Departs)
	return time.Date(date.Year(), date.Month(), date.Day(), hm.Hour(), hm.Minute(), 0, 0, time.UTC)
}

type searchFlightsInput struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Date        string `json:"date"`
}

func (t *travelHandlers) SearchFlights(_ context.Context, _ tools.Caller, input json.RawMessage) (json.RawMessage, error) {
	var in searchFlightsInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	date, err := parseDate(in.Date)
	if err != nil {
		return nil, err
	}

	type offer struct {
		Flight
		Departure string `json:"departure"`
	}
	offers := []offer{}
	for _, f := range catalog {
		if strings.EqualFold(f.Origin, in.Origin) && strings.EqualFold(f.Destination, in.Destination) {
			offers = append(offers, offer{Flight: f, Departure: departure(date, f).Format(time.RFC3339)})
		}
	}
	return json.Marshal(map[string]any{"flights": offers, "count": len(offers)})
}

type bookFlightInput struct {
	FlightID  string `json:"flight_id"`
	Date      string `json:"date"`
	Passenger string `json:"passenger"`
}

func (t *travelHandlers) BookFlight(ctx context.Context, caller tools.Caller, input json.RawMessage) (json.RawMessage, error) {
	var in bookFlightInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	f, ok := FindFlight(in.FlightID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlight, in.FlightID)
	}
	date, err := parseDate(in.Date)
	if err != nil {
		return nil, err
	}
	dep := departure(date, f)
	if dep.Before(t.now()) {
		return nil, fmt.Errorf("flight %s on %s has already departed", f.Number, in.Date)
	}

	b := &store.Booking{
		ID:          uuid.New().String(),
		WorkflowID:  caller.WorkflowID,
		UserID:      caller.UserID,
		FlightID:    f.Number,
		Passenger:   in.Passenger,
		Origin:      f.Origin,
		Destination: f.Destination,
		Departure:   dep,
	}
	if err := t.store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{
		"booking_id": b.ID,
		"flight_id":  b.FlightID,
		"departure":  dep.Format(time.RFC3339),
		"status":     b.Status,
	})
}

type bookingView struct {
	ID          string `json:"booking_id"`
	FlightID    string `json:"flight_id"`
	Passenger   string `json:"passenger"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Departure   string `json:"departure"`
	Status      string `json:"status"`
}

func viewBooking(b *store.Booking) bookingView {
	return bookingView{
		ID:          b.ID,
		FlightID:    b.FlightID,
		Passenger:   b.Passenger,
		Origin:      b.Origin,
		Destination: b.Destination,
		Departure:   b.Departure.Format(time.RFC3339),
		Status:      b.Status,
	}
}

func (t *travelHandlers) ListBookings(ctx context.Context, caller tools.Caller, _ json.RawMessage) (json.RawMessage, error) {
	bookings, err := t.store.ListBookings(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	views := make([]bookingView, len(bookings))
	for i, b := range bookings {
		views[i] = viewBooking(b)
	}
	return json.Marshal(map[string]any{"bookings": views, "count": len(views)})
}

type cancelBookingInput struct {
	BookingID string `json:"booking_id"`
}

func (t *travelHandlers) CancelBooking(ctx context.Context, caller tools.Caller, input json.RawMessage) (json.RawMessage, error) {
	var in cancelBookingInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	b, err := t.store.CancelBooking(ctx, in.BookingID, caller.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("booking %s not found", in.BookingID)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(viewBooking(b))
}
