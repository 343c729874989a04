package orthanc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "orthanc", "orthanc", zerolog.Nop())
}

func TestClient_Study(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studies/abc123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "orthanc" || pass != "orthanc" {
			t.Error("expected basic auth credentials")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"ID": "abc123",
			"MainDicomTags": {"StudyInstanceUID": "1.2.3", "StudyDescription": "CT CHEST"},
			"PatientMainDicomTags": {"PatientID": "P-1", "PatientName": "DOE^JOHN"},
			"Series": ["s1", "s2"],
			"IsStable": true,
			"LastUpdate": "20250102T030405"
		}`))
	})

	details, err := client.Study(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.ID != "abc123" {
		t.Errorf("expected ID abc123, got %s", details.ID)
	}
	if details.MainDicomTags["StudyInstanceUID"] != "1.2.3" {
		t.Errorf("expected StudyInstanceUID 1.2.3, got %s", details.MainDicomTags["StudyInstanceUID"])
	}
	if details.PatientMainDicomTags["PatientName"] != "DOE^JOHN" {
		t.Errorf("expected patient name, got %s", details.PatientMainDicomTags["PatientName"])
	}
	if len(details.Series) != 2 {
		t.Errorf("expected 2 series, got %d", len(details.Series))
	}
	if !details.IsStable {
		t.Error("expected IsStable true")
	}
}

func TestClient_Study_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.Study(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_Study_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Study(context.Background(), "abc123")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("server error must not map to ErrNotFound")
	}
}

func TestClient_StudyInstances(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studies/abc123/instances" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"ID": "i1", "MainDicomTags": {"SOPInstanceUID": "1.2.3.1", "InstanceNumber": "1"}},
			{"ID": "i2", "MainDicomTags": {"SOPInstanceUID": "1.2.3.2", "InstanceNumber": "2"}}
		]`))
	})

	instances, err := client.StudyInstances(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(instances))
	}
	if instances[0].ID != "i1" {
		t.Errorf("expected first instance i1, got %s", instances[0].ID)
	}
}

func TestClient_Series(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/series/s1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"ID": "s1",
			"MainDicomTags": {"Modality": "CT", "SeriesInstanceUID": "1.2.3.4"},
			"Instances": ["i1", "i2", "i3"]
		}`))
	})

	details, err := client.Series(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.MainDicomTags["Modality"] != "CT" {
		t.Errorf("expected Modality CT, got %s", details.MainDicomTags["Modality"])
	}
	if len(details.Instances) != 3 {
		t.Errorf("expected 3 instances, got %d", len(details.Instances))
	}
}

func TestClient_InstanceTags(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instances/i1/simplified-tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"PatientName": "DOE^JANE", "Modality": "MR", "StudyInstanceUID": "1.2.3"}`))
	})

	tags, err := client.InstanceTags(context.Background(), "i1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tags["Modality"] != "MR" {
		t.Errorf("expected Modality MR, got %s", tags["Modality"])
	}
}

func TestClient_Ping(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/system" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Name": "Orthanc", "Version": "1.12.4", "ApiVersion": 23}`))
	})

	info, err := client.Ping(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Version != "1.12.4" {
		t.Errorf("expected version 1.12.4, got %s", info.Version)
	}
}

func TestClient_Ping_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := NewClient(srv.URL, "", "", zerolog.Nop())
	srv.Close()

	if _, err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error when archive is unreachable")
	}
}
