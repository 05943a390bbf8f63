// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/channelmetrics/internal/config"
	"github.com/tomtom215/channelmetrics/internal/models"
	"github.com/tomtom215/channelmetrics/internal/reporting"
)

func TestImportDate_PartialKinds(t *testing.T) {
	store := newMemStore()
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
		switch kind {
		case models.ReportKindBasic:
			return payload(kind, date, "video_id,views,watch_time_minutes\nv1,100,30\nv2,5,1\n"), nil
		case models.ReportKindCombined:
			return payload(kind, date, "video_id,views\nv1,120\n"), nil
		case models.ReportKindDemographics:
			return unavailable(kind, date), nil
		default:
			return nil, transportFailure(kind, date)
		}
	}}
	o := newTestOrchestrator(t, dl, store)

	summary, err := o.ImportDate(context.Background(), ImportRequest{
		Date:        day(t, "2024-01-05"),
		Credentials: creds(),
	})
	if err != nil {
		t.Fatalf("ImportDate() error = %v", err)
	}

	if summary.Status != models.ImportStatusPartial {
		t.Errorf("Status = %q, want partial", summary.Status)
	}
	if len(summary.KindsSucceeded) != 2 || len(summary.KindsUnavailable) != 1 || len(summary.KindsFailed) != 1 {
		t.Errorf("kinds succeeded=%v unavailable=%v failed=%v",
			summary.KindsSucceeded, summary.KindsUnavailable, summary.KindsFailed)
	}
	if summary.RecordsCreated != 2 || summary.VideosAffected != 2 {
		t.Errorf("RecordsCreated = %d, VideosAffected = %d; want 2, 2", summary.RecordsCreated, summary.VideosAffected)
	}
	if summary.TotalViews != 125 {
		t.Errorf("TotalViews = %d, want 125 (combined overrides basic for v1)", summary.TotalViews)
	}
	if summary.Requests != 7 || summary.QuotaCost != 7 {
		t.Errorf("Requests = %d, QuotaCost = %d; want 7, 7", summary.Requests, summary.QuotaCost)
	}
	if len(summary.Errors) != 1 {
		t.Errorf("Errors = %v, want one transport error", summary.Errors)
	}

	rec := store.record("v1", "2024-01-05")
	if rec == nil || rec.Views == nil || *rec.Views != 120 {
		t.Fatalf("stored v1 = %+v, want views 120", rec)
	}
	if rec.WatchTimeMinutes == nil || *rec.WatchTimeMinutes != 30 {
		t.Errorf("v1 watch time = %v, want basic value 30", rec.WatchTimeMinutes)
	}

	if store.auditCount() != 1 || summary.AuditID == "" {
		t.Fatalf("audit count = %d, AuditID = %q", store.auditCount(), summary.AuditID)
	}
	audits, _ := store.ListImportAudits(context.Background(), 1)
	if audits[0].Status != models.ImportStatusPartial || audits[0].ErrorText == "" {
		t.Errorf("audit = %+v", audits[0])
	}
}

func TestImportDate_Idempotent(t *testing.T) {
	store := newMemStore()
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
		if kind != models.ReportKindBasic {
			return unavailable(kind, date), nil
		}
		return payload(kind, date, "video_id,views\na,1\nb,2\nc,3\n"), nil
	}}
	o := newTestOrchestrator(t, dl, store)
	req := ImportRequest{Date: day(t, "2024-01-05"), Credentials: creds()}

	first, err := o.ImportDate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	before := *store.record("b", "2024-01-05").Views

	second, err := o.ImportDate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if first.RecordsCreated != 3 || first.RecordsUpdated != 0 {
		t.Errorf("first run created=%d updated=%d", first.RecordsCreated, first.RecordsUpdated)
	}
	if second.RecordsCreated != 0 || second.RecordsUpdated != 3 {
		t.Errorf("second run created=%d updated=%d, want 0, 3", second.RecordsCreated, second.RecordsUpdated)
	}
	if store.count() != 3 {
		t.Errorf("stored records = %d, want 3", store.count())
	}
	if after := *store.record("b", "2024-01-05").Views; after != before {
		t.Errorf("views changed across re-import: %d -> %d", before, after)
	}
}

func TestImportDate_AllKindsFailed(t *testing.T) {
	store := newMemStore()
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
		return nil, transportFailure(kind, date)
	}}
	o := newTestOrchestrator(t, dl, store)

	summary, err := o.ImportDate(context.Background(), ImportRequest{Date: day(t, "2024-01-05"), Credentials: creds()})
	if !errors.Is(err, ErrNoReportsImported) {
		t.Fatalf("ImportDate() error = %v, want ErrNoReportsImported", err)
	}
	if summary == nil || summary.Status != models.ImportStatusFailed {
		t.Fatalf("summary = %+v, want failed", summary)
	}
	if dl.callCount() != 4 {
		t.Errorf("download calls = %d, want every kind tried", dl.callCount())
	}
	if store.auditCount() != 1 {
		t.Errorf("failed import should leave an audit record")
	}
}

func TestImportDate_NothingAvailableIsSkipped(t *testing.T) {
	store := newMemStore()
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
		return unavailable(kind, date), nil
	}}
	o := newTestOrchestrator(t, dl, store)

	summary, err := o.ImportDate(context.Background(), ImportRequest{Date: day(t, "2024-01-05"), Credentials: creds()})
	if err != nil {
		t.Fatalf("ImportDate() error = %v", err)
	}
	if summary.Status != models.ImportStatusSkipped {
		t.Errorf("Status = %q, want skipped", summary.Status)
	}
	if store.count() != 0 {
		t.Errorf("records stored = %d, want 0", store.count())
	}
}

func TestImportDate_AuthFailureStopsKinds(t *testing.T) {
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
		return nil, authFailure(kind, date)
	}}
	o := newTestOrchestrator(t, dl, newMemStore())

	summary, err := o.ImportDate(context.Background(), ImportRequest{Date: day(t, "2024-01-05"), Credentials: creds()})
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("ImportDate() error = %v, want ErrAuthenticationFailed", err)
	}
	if !errors.Is(err, reporting.ErrAuthExpired) {
		t.Errorf("error should keep the reporting cause: %v", err)
	}
	if summary.Status != models.ImportStatusFailed {
		t.Errorf("Status = %q, want failed", summary.Status)
	}
	if dl.callCount() != 1 {
		t.Errorf("download calls = %d, want 1 (later kinds cannot succeed)", dl.callCount())
	}
}

func TestImportDate_AuthFailureKeepsEarlierKinds(t *testing.T) {
	store := newMemStore()
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
		if kind == models.ReportKindBasic {
			return payload(kind, date, "video_id,views\nv1,10\n"), nil
		}
		return nil, authFailure(kind, date)
	}}
	o := newTestOrchestrator(t, dl, store)

	summary, err := o.ImportDate(context.Background(), ImportRequest{Date: day(t, "2024-01-05"), Credentials: creds()})
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("ImportDate() error = %v, want ErrAuthenticationFailed", err)
	}
	if summary.Status != models.ImportStatusPartial {
		t.Errorf("Status = %q, want partial", summary.Status)
	}
	if len(summary.KindsSucceeded) != 1 || summary.RecordsCreated != 1 {
		t.Errorf("kinds succeeded=%v records created=%d, want [basic], 1", summary.KindsSucceeded, summary.RecordsCreated)
	}
	rec := store.record("v1", "2024-01-05")
	if rec == nil || rec.Views == nil || *rec.Views != 10 {
		t.Fatalf("stored v1 = %+v, want the basic row", rec)
	}
	if dl.callCount() != 2 {
		t.Errorf("download calls = %d, want 2 (kinds after the failure are not tried)", dl.callCount())
	}
	audits, _ := store.ListImportAudits(context.Background(), 1)
	if len(audits) != 1 || audits[0].RecordsCreated != 1 {
		t.Errorf("audit = %+v, want one record created", audits)
	}
}

func TestImportDate_ParseFailureSkipsKind(t *testing.T) {
	store := newMemStore()
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
		switch kind {
		case models.ReportKindBasic:
			return payload(kind, date, "video_id,views\nv1,10\n"), nil
		case models.ReportKindCombined:
			return payload(kind, date, "not,a,report\n1,2,3\n"), nil
		default:
			return unavailable(kind, date), nil
		}
	}}
	o := newTestOrchestrator(t, dl, store)

	summary, err := o.ImportDate(context.Background(), ImportRequest{Date: day(t, "2024-01-05"), Credentials: creds()})
	if err != nil {
		t.Fatalf("ImportDate() error = %v", err)
	}
	if summary.Status != models.ImportStatusPartial {
		t.Errorf("Status = %q, want partial", summary.Status)
	}
	if len(summary.KindsFailed) != 1 || summary.KindsFailed[0] != models.ReportKindCombined {
		t.Errorf("KindsFailed = %v", summary.KindsFailed)
	}
	if store.count() != 1 {
		t.Errorf("records = %d, want 1 from basic", store.count())
	}
}

func TestImportDate_ApproximateIsFlagged(t *testing.T) {
	store := newMemStore()
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
		if kind != models.ReportKindBasic {
			return unavailable(kind, date), nil
		}
		res := payload(kind, date, "video_id,views\nv1,10\n")
		res.Approximate = true
		return res, nil
	}}
	o := newTestOrchestrator(t, dl, store)

	summary, err := o.ImportDate(context.Background(), ImportRequest{Date: day(t, "2024-01-05"), Credentials: creds()})
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Approximate || len(summary.ApproximateKinds) != 1 {
		t.Errorf("summary approximate = %v %v", summary.Approximate, summary.ApproximateKinds)
	}
	rec := store.record("v1", "2024-01-05")
	if rec == nil || !rec.Approximate {
		t.Errorf("stored record should be flagged approximate: %+v", rec)
	}
}

func TestImportDate_RawOnly(t *testing.T) {
	db, err := OpenBadger(&config.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	raw := NewBadgerStore(db)

	store := newMemStore()
	o := newTestOrchestrator(t, &fakeDownloader{handler: basicOnly}, store, WithRawStore(raw))

	summary, err := o.ImportDate(context.Background(), ImportRequest{
		Date:        day(t, "2024-01-05"),
		Credentials: creds(),
		RawOnly:     true,
	})
	if err != nil {
		t.Fatalf("ImportDate() error = %v", err)
	}
	if store.count() != 0 || store.auditCount() != 0 {
		t.Errorf("raw-only import touched the store: records=%d audits=%d", store.count(), store.auditCount())
	}
	if len(summary.Raw[models.ReportKindBasic]) == 0 {
		t.Fatal("summary.Raw missing basic payload")
	}

	stored, err := o.RawPayload(context.Background(), day(t, "2024-01-05"), models.ReportKindBasic)
	if err != nil {
		t.Fatalf("RawPayload() error = %v", err)
	}
	if string(stored) != string(summary.Raw[models.ReportKindBasic]) {
		t.Errorf("stored payload mismatch")
	}
}

func TestImportDate_Validation(t *testing.T) {
	dl := &fakeDownloader{handler: basicOnly}
	o := newTestOrchestrator(t, dl, newMemStore())

	tests := []struct {
		name string
		req  ImportRequest
	}{
		{"nil credentials", ImportRequest{}},
		{"empty token", ImportRequest{Credentials: &reporting.Credentials{}}},
		{"future date", ImportRequest{Credentials: creds(), Date: day(t, "2024-01-11")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.ImportDate(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("ImportDate() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if dl.callCount() != 0 {
		t.Errorf("invalid requests reached the downloader %d times", dl.callCount())
	}
}

func TestImportDate_DefaultsToYesterday(t *testing.T) {
	dl := &fakeDownloader{handler: basicOnly}
	o := newTestOrchestrator(t, dl, newMemStore(), WithKinds(models.ReportKindBasic))

	summary, err := o.ImportDate(context.Background(), ImportRequest{Credentials: creds()})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Date != "2024-01-09" {
		t.Errorf("Date = %s, want 2024-01-09", summary.Date)
	}
	if dl.callCount() != 1 {
		t.Errorf("download calls = %d, want 1 for the single configured kind", dl.callCount())
	}
}

func TestCoverage(t *testing.T) {
	store := newMemStore()
	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-05"} {
		v := int64(1)
		if err := store.InsertRecord(context.Background(), &models.AnalyticsRecord{VideoID: "v", Date: day(t, d), Views: &v}); err != nil {
			t.Fatal(err)
		}
	}
	o := newTestOrchestrator(t, &fakeDownloader{handler: basicOnly}, store)

	report, err := o.Coverage(context.Background())
	if err != nil {
		t.Fatalf("Coverage() error = %v", err)
	}
	gaps := report.Analysis.Gaps
	if len(gaps) != 1 {
		t.Fatalf("gaps = %+v, want one", gaps)
	}
	if models.FormatDate(gaps[0].Start) != "2024-01-03" || models.FormatDate(gaps[0].End) != "2024-01-04" || gaps[0].DayCount != 2 {
		t.Errorf("gap = %+v", gaps[0])
	}
	if report.Analysis.NextMissingDate == nil || models.FormatDate(*report.Analysis.NextMissingDate) != "2024-01-06" {
		t.Errorf("NextMissingDate = %v", report.Analysis.NextMissingDate)
	}
	if report.Quality == nil || report.Quality.DistinctDates != 3 {
		t.Errorf("Quality = %+v", report.Quality)
	}
}
