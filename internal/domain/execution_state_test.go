package domain

import "testing"

func TestNormalizeEnvironment(t *testing.T) {
	cases := map[string]Environment{
		"development": EnvironmentDev,
		"QA":          EnvironmentQA,
		"uat":         EnvironmentUAT,
		"production":  EnvironmentProd,
		"":            EnvironmentProd,
	}
	for in, want := range cases {
		if got := NormalizeEnvironment(in); got != want {
			t.Fatalf("NormalizeEnvironment(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIngestRunState(t *testing.T) {
	cases := map[string]IngestRunStatus{
		"pending":   IngestRunPending,
		"RUNNING":   IngestRunRunning,
		"completed": IngestRunSucceeded,
		"crashed":   IngestRunFailed,
		"unknown":   "",
	}
	for in, want := range cases {
		if got := NormalizeIngestRunState(in); got != want {
			t.Fatalf("NormalizeIngestRunState(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestCanTransitionIngestRunState(t *testing.T) {
	if !CanTransitionIngestRunState(IngestRunRunning, IngestRunSucceeded) {
		t.Fatalf("expected running -> succeeded to be allowed")
	}
	if CanTransitionIngestRunState(IngestRunFailed, IngestRunRunning) {
		t.Fatalf("expected failed -> running to be rejected")
	}
	if CanTransitionIngestRunState(IngestRunSucceeded, IngestRunFailed) {
		t.Fatalf("expected succeeded -> failed to be rejected")
	}
}

func TestAggregateExecutionStatus(t *testing.T) {
	cases := []struct {
		in   []SourceExecutionStatus
		want ExecutionStatus
	}{
		{[]SourceExecutionStatus{SourceExecutionCompleted, SourceExecutionCompleted}, ExecutionStatusCompleted},
		{[]SourceExecutionStatus{SourceExecutionCompleted, SourceExecutionRunning}, ExecutionStatusRunning},
		{[]SourceExecutionStatus{SourceExecutionRunning, SourceExecutionFailed}, ExecutionStatusFailed},
		{nil, ExecutionStatusRunning},
	}
	for _, tc := range cases {
		if got := AggregateExecutionStatus(tc.in); got != tc.want {
			t.Fatalf("AggregateExecutionStatus(%v)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSchemaEncodeDecode(t *testing.T) {
	s := Schema{{Name: "id", Type: ColumnInteger}, {Name: "payload", Type: ColumnJSON}}
	raw, err := s.Encode()
	if err != nil {
		t.Fatalf("Encode() err=%v", err)
	}
	if raw != `[{"name":"id","type":"integer"},{"name":"payload","type":"json"}]` {
		t.Fatalf("Encode()=%s", raw)
	}
	got, err := DecodeSchema(raw)
	if err != nil {
		t.Fatalf("DecodeSchema() err=%v", err)
	}
	if len(got) != 2 || got[1].Type != ColumnJSON {
		t.Fatalf("DecodeSchema()=%v", got)
	}
	empty, err := Schema(nil).Encode()
	if err != nil || empty != "[]" {
		t.Fatalf("Encode(nil)=%q err=%v, want []", empty, err)
	}
}

func TestCatalogEntry_HasParent(t *testing.T) {
	e := CatalogEntry{ParentTables: []string{"orders_raw", "customers"}}
	if !e.HasParent("customers") {
		t.Fatalf("HasParent(customers)=false, want true")
	}
	if e.HasParent("orders") {
		t.Fatalf("HasParent(orders)=true, want false (substring only)")
	}
}
