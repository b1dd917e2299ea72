package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"dailybrief/internal/briefing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
)

type memorySettingsStore struct {
	saved map[string]Settings
}

func (m *memorySettingsStore) GetSettings(_ context.Context, userID string) (*Settings, error) {
	cs, ok := m.saved[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cs, nil
}

func (m *memorySettingsStore) SaveSettings(_ context.Context, cs *Settings) error {
	if m.saved == nil {
		m.saved = map[string]Settings{}
	}
	m.saved[cs.UserID] = *cs
	return nil
}

func TestService_GetSettingsDefaults(t *testing.T) {
	view, err := NewService(&memorySettingsStore{}, Calendars).GetSettings(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if view.DaysInAdvance != briefing.DefaultDaysInAdvance || len(view.SelectedCalendars) != 0 || len(view.Available) != len(Calendars) {
		t.Fatalf("unexpected defaults %+v", view)
	}
}

func TestService_UpdateSettingsResolvesNames(t *testing.T) {
	store := &memorySettingsStore{}
	svc := NewService(store, Calendars)

	cs, err := svc.UpdateSettings(context.Background(), "u1", SettingsRequest{
		SelectedCalendars: []string{"work", "primary", "work"},
		DaysInAdvance:     5,
	})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if !reflect.DeepEqual(cs.SelectedCalendars, briefing.StringList{"work", "primary"}) ||
		!reflect.DeepEqual(cs.SelectedCalendarNames, briefing.StringList{"Work", "Personal"}) {
		t.Fatalf("unexpected selection %+v", cs)
	}

	view, _ := svc.GetSettings(context.Background(), "u1")
	if view.DaysInAdvance != 5 || len(view.SelectedCalendars) != 2 {
		t.Fatalf("saved settings not returned: %+v", view)
	}
}

func TestService_UpdateSettingsValidation(t *testing.T) {
	tests := []struct {
		name string
		req  SettingsRequest
	}{
		{"unknown calendar", SettingsRequest{SelectedCalendars: []string{"holidays"}, DaysInAdvance: 3}},
		{"zero days", SettingsRequest{SelectedCalendars: []string{"work"}}},
		{"too many days", SettingsRequest{DaysInAdvance: MaxDaysInAdvance + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memorySettingsStore{}
			_, err := NewService(store, Calendars).UpdateSettings(context.Background(), "u1", tt.req)
			if !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("want ErrInvalidSettings, got %v", err)
			}
			if len(store.saved) != 0 {
				t.Fatal("invalid settings must not be saved")
			}
		})
	}
}

func TestCalendarHandler_UpdateThenGet(t *testing.T) {
	h := NewCalendarHandler(NewService(&memorySettingsStore{}, Calendars))
	app := fiber.New()
	app.Get("/api/users/:userID/calendar/settings", h.HandleGetSettings)
	app.Put("/api/users/:userID/calendar/settings", h.HandleUpdateSettings)

	put := func(body string) int {
		req := httptest.NewRequest(http.MethodPut, "/api/users/u1/calendar/settings", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode
	}
	if code := put(`{"selected_calendars":["family"],"days_in_advance":3}`); code != http.StatusOK {
		t.Fatalf("want 200, got %d", code)
	}
	if code := put(`{"selected_calendars":["nope"],"days_in_advance":3}`); code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", code)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/users/u1/calendar/settings", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		SelectedCalendars     []string   `json:"selected_calendars"`
		SelectedCalendarNames []string   `json:"selected_calendar_names"`
		DaysInAdvance         int        `json:"days_in_advance"`
		Available             []Calendar `json:"available_calendars"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.DaysInAdvance != 3 || len(got.SelectedCalendars) != 1 || got.SelectedCalendarNames[0] != "Family" || len(got.Available) != 3 {
		t.Fatalf("unexpected settings %+v", got)
	}
}

func TestStore_SaveAndGetSettings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewStore(sqlx.NewDb(db, "mysql"))

	mock.ExpectExec("INSERT INTO user_calendar_settings").
		WithArgs("u1", `["work"]`, `["Work"]`, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM user_calendar_settings").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "selected_calendars", "selected_calendar_names", "days_in_advance"}).
			AddRow("u1", []byte(`["work"]`), []byte(`["Work"]`), 4))
	mock.ExpectQuery("FROM user_calendar_settings").
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "selected_calendars", "selected_calendar_names", "days_in_advance"}))

	err = store.SaveSettings(context.Background(), &Settings{
		UserID: "u1", SelectedCalendars: briefing.StringList{"work"}, SelectedCalendarNames: briefing.StringList{"Work"}, DaysInAdvance: 4,
	})
	if err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	cs, err := store.GetSettings(context.Background(), "u1")
	if err != nil || cs.DaysInAdvance != 4 || cs.SelectedCalendarNames[0] != "Work" {
		t.Fatalf("unexpected settings %+v (%v)", cs, err)
	}
	if _, err := store.GetSettings(context.Background(), "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
