package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/opcbridge/opcbridge/internal/config"
)

func newTestRegistry(t *testing.T, document string) *NodeConfiguration {
	t.Helper()
	path := filepath.Join(t.TempDir(), "publishednodes.json")
	if document != "" {
		if err := os.WriteFile(path, []byte(document), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	settings := newTestSettings(t, config.PublisherConfig{DefaultPublishingIntervalMS: 1000})
	return NewNodeConfiguration(path, settings, &captureRouter{}, nil, discardLogger())
}

const testDocument = `[
  {
    "EndpointId": "7b2d3a10-91c4-4a6e-9a30-1f2d4c5b6a70",
    "EndpointName": "line-1",
    "EndpointUrl": "opc.tcp://plc:4840",
    "UseSecurity": false,
    "OpcNodes": [
      { "Id": "ns=2;s=Minimal" },
      {
        "ExpandedNodeId": "nsu=http://factory/ua;s=Full",
        "OpcSamplingInterval": 250,
        "OpcPublishingInterval": 500,
        "DisplayName": "Full Node",
        "HeartbeatInterval": 60,
        "SkipFirst": true,
        "IotCentralItemPublishMode": "property"
      }
    ],
    "OpcEvents": [
      {
        "Id": "ns=2;s=Alarms",
        "DisplayName": "Alarms",
        "SelectClauses": [
          { "BrowsePaths": ["2:Severity"], "IotCentralEventPublishMode": "property" },
          { "BrowsePaths": ["2:Message"] },
          { "BrowsePaths": ["2:SourceName"] },
          { "TypeId": "i=2041", "BrowsePaths": ["2:ActiveState", "2:Id"] }
        ],
        "WhereClause": [
          { "Operator": "GreaterThan", "Operands": [ { "BrowsePaths": ["2:Severity"] }, { "Literal": "400" } ] }
        ]
      }
    ]
  }
]`

func TestInitBuildsSessionGraph(t *testing.T) {
	ctx := context.Background()
	nc := newTestRegistry(t, testDocument)
	if err := nc.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	stats, err := nc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.SessionsConfigured != 1 {
		t.Errorf("SessionsConfigured = %d, want 1", stats.SessionsConfigured)
	}
	// Two distinct publishing intervals yield two data-change subscriptions.
	if stats.SubscriptionsConfigured != 2 {
		t.Errorf("SubscriptionsConfigured = %d, want 2", stats.SubscriptionsConfigured)
	}
	if stats.EventSubscriptionsConfigured != 1 {
		t.Errorf("EventSubscriptionsConfigured = %d, want 1", stats.EventSubscriptionsConfigured)
	}
	if stats.MonitoredItemsConfigured != 2 {
		t.Errorf("MonitoredItemsConfigured = %d, want 2", stats.MonitoredItemsConfigured)
	}
	if stats.MonitoredEventItemsConfigured != 1 {
		t.Errorf("MonitoredEventItemsConfigured = %d, want 1", stats.MonitoredEventItemsConfigured)
	}
	// Every item add bumps the configuration version.
	if stats.NodeConfigVersion != 3 {
		t.Errorf("NodeConfigVersion = %d, want 3", stats.NodeConfigVersion)
	}

	session, err := nc.FindSession(ctx, uuid.MustParse("7b2d3a10-91c4-4a6e-9a30-1f2d4c5b6a70"))
	if err != nil || session == nil {
		t.Fatalf("FindSession: %v %v", session, err)
	}
	if session.EndpointName != "line-1" || session.UseSecurity {
		t.Errorf("session identity: name=%q security=%v", session.EndpointName, session.UseSecurity)
	}

	ev := session.OpcEventSubscriptions[0].OpcMonitoredItems[0].EventConfiguration
	if len(ev.SelectClauses) != 4 || len(ev.WhereClause) != 1 {
		t.Fatalf("event config: %d select, %d where", len(ev.SelectClauses), len(ev.WhereClause))
	}
	if ev.SelectClauses[0].IotCentralEventPublishMode == nil ||
		*ev.SelectClauses[0].IotCentralEventPublishMode != PublishModeProperty {
		t.Error("first select clause publish mode lost")
	}
}

func TestConfigurationRoundTripPreservesAbsentFields(t *testing.T) {
	ctx := context.Background()
	nc := newTestRegistry(t, testDocument)
	if err := nc.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := nc.UpdateNodeConfigurationFile(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	raw, err := os.ReadFile(nc.configFile)
	if err != nil {
		t.Fatal(err)
	}

	var entries []PublisherConfigFileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("saved document invalid: %v", err)
	}
	if len(entries) != 1 || len(entries[0].OpcNodes) != 2 {
		t.Fatalf("saved %d entries / %d nodes", len(entries), len(entries[0].OpcNodes))
	}

	var minimal, full *OpcNodeOnEndpoint
	for i := range entries[0].OpcNodes {
		n := &entries[0].OpcNodes[i]
		if n.EffectiveID() == "ns=2;s=Minimal" {
			minimal = n
		} else {
			full = n
		}
	}
	if minimal == nil || full == nil {
		t.Fatal("nodes missing from saved document")
	}

	// Values never configured must stay absent, not be written back as the
	// effective defaults.
	if minimal.OpcSamplingInterval != nil || minimal.OpcPublishingInterval != nil ||
		minimal.HeartbeatInterval != nil || minimal.SkipFirst != nil ||
		minimal.IotCentralItemPublishMode != nil {
		t.Errorf("defaults leaked into minimal node: %+v", minimal)
	}
	if minimal.ID != "ns=2;s=Minimal" || minimal.ExpandedNodeID != "" {
		t.Errorf("identifier form changed: %+v", minimal)
	}

	if full.ExpandedNodeID != "nsu=http://factory/ua;s=Full" || full.ID != "" {
		t.Errorf("expanded identifier form changed: %+v", full)
	}
	if full.OpcSamplingInterval == nil || *full.OpcSamplingInterval != 250 {
		t.Errorf("sampling interval lost: %v", full.OpcSamplingInterval)
	}
	if full.OpcPublishingInterval == nil || *full.OpcPublishingInterval != 500 {
		t.Errorf("publishing interval lost: %v", full.OpcPublishingInterval)
	}
	if full.HeartbeatInterval == nil || *full.HeartbeatInterval != 60 {
		t.Errorf("heartbeat interval lost: %v", full.HeartbeatInterval)
	}
	if full.SkipFirst == nil || !*full.SkipFirst {
		t.Errorf("skip-first lost: %v", full.SkipFirst)
	}
	if full.IotCentralItemPublishMode == nil || *full.IotCentralItemPublishMode != PublishModeProperty {
		t.Errorf("publish mode lost: %v", full.IotCentralItemPublishMode)
	}

	if len(entries[0].OpcEvents) != 1 || len(entries[0].OpcEvents[0].SelectClauses) != 4 {
		t.Error("event configuration lost on round trip")
	}

	// A reload of the saved document reproduces the same graph.
	nc2 := newTestRegistry(t, string(raw))
	if err := nc2.Init(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	stats, err := nc2.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.MonitoredItemsConfigured != 2 || stats.MonitoredEventItemsConfigured != 1 {
		t.Errorf("reloaded graph differs: %+v", stats)
	}
}

func TestReadConfigMissingFileIsEmpty(t *testing.T) {
	nc := newTestRegistry(t, "")
	entries, err := nc.ReadConfig(context.Background())
	if err != nil {
		t.Fatalf("missing file treated as error: %v", err)
	}
	if entries != nil {
		t.Errorf("got %d entries, want none", len(entries))
	}
}

func TestParseConfigurationEntriesRejectsStructuralErrors(t *testing.T) {
	cases := map[string]string{
		"malformed json":   `[{`,
		"missing url":      `[{"OpcNodes":[{"Id":"ns=2;s=A"}]}]`,
		"node without id":  `[{"EndpointUrl":"opc.tcp://plc:4840","OpcNodes":[{"DisplayName":"x"}]}]`,
		"event no selects": `[{"EndpointUrl":"opc.tcp://plc:4840","OpcEvents":[{"Id":"ns=2;s=E"}]}]`,
		"event without id": `[{"EndpointUrl":"opc.tcp://plc:4840","OpcEvents":[{"SelectClauses":[{"BrowsePaths":["2:Severity"]}]}]}]`,
	}
	for name, doc := range cases {
		if _, err := ParseConfigurationEntries([]byte(doc)); err == nil {
			t.Errorf("%s accepted", name)
		}
	}
}

func TestSaveConfigurationJSONReplacesGraph(t *testing.T) {
	ctx := context.Background()
	nc := newTestRegistry(t, testDocument)
	if err := nc.Init(ctx); err != nil {
		t.Fatal(err)
	}

	replacement := `[{"EndpointUrl":"opc.tcp://other:4840","OpcNodes":[{"Id":"ns=3;s=Only"}]}]`
	if err := nc.SaveConfigurationJSON(ctx, []byte(replacement)); err != nil {
		t.Fatalf("save: %v", err)
	}

	stats, err := nc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.SessionsConfigured != 1 || stats.MonitoredItemsConfigured != 1 || stats.MonitoredEventItemsConfigured != 0 {
		t.Errorf("graph not replaced: %+v", stats)
	}

	sessions, _ := nc.Sessions(ctx)
	if sessions[0].EndpointURL != "opc.tcp://other:4840" {
		t.Errorf("endpoint url = %q", sessions[0].EndpointURL)
	}

	if err := nc.SaveConfigurationJSON(ctx, []byte(`not json`)); err == nil {
		t.Error("invalid replacement document accepted")
	}
}

func TestStatsSkipsBusySessions(t *testing.T) {
	ctx := context.Background()
	nc := newTestRegistry(t, testDocument)
	if err := nc.Init(ctx); err != nil {
		t.Fatal(err)
	}

	sessions, _ := nc.Sessions(ctx)
	if !sessions[0].Lock().TryAcquire() {
		t.Fatal("session lock unavailable")
	}
	defer sessions[0].Lock().Release()

	stats, err := nc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.SessionsConfigured != 1 {
		t.Errorf("SessionsConfigured = %d, want 1", stats.SessionsConfigured)
	}
	if stats.MonitoredItemsConfigured != 0 || stats.SubscriptionsConfigured != 0 {
		t.Errorf("busy session counted in diagnostics: %+v", stats)
	}
}

func TestStatsDuringConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	nc := newTestRegistry(t, "")
	if err := nc.Init(ctx); err != nil {
		t.Fatal(err)
	}
	session, _, err := nc.EnsureSession(ctx, uuid.Nil, "opc.tcp://plc:4840", false)
	if err != nil {
		t.Fatal(err)
	}

	const adds = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < adds; i++ {
			opts := DataChangeItemOptions{ID: fmt.Sprintf("ns=2;s=Node%03d", i)}
			if _, err := session.AddNodeForMonitoring(ctx, opts, nil); err != nil {
				t.Errorf("add %d: %v", i, err)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			stats, err := nc.Stats(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if stats.MonitoredItemsConfigured != adds {
				t.Errorf("MonitoredItemsConfigured = %d, want %d", stats.MonitoredItemsConfigured, adds)
			}
			return
		default:
			if _, err := nc.Stats(ctx); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func TestSnapshotSkipsBusySessions(t *testing.T) {
	ctx := context.Background()
	nc := newTestRegistry(t, testDocument)
	if err := nc.Init(ctx); err != nil {
		t.Fatal(err)
	}

	sessions, _ := nc.Sessions(ctx)
	if !sessions[0].Lock().TryAcquire() {
		t.Fatal("session lock unavailable")
	}
	defer sessions[0].Lock().Release()

	entries, _, err := nc.GetPublisherConfigurationFileEntries(ctx, uuid.Nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("busy session included in snapshot")
	}
}
