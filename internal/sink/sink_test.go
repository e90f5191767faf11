package sink

import (
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"

	"github.com/relabs-tech/hive_monitor/internal/faults"
	"github.com/relabs-tech/hive_monitor/internal/record"
)

func sampleRecord(grams float64) record.SensorRecord {
	b := record.NewBuilder(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	b.WeightGrams(grams)
	b.Temperature(24.5)
	b.Humidity(61)
	b.Presence(true)
	b.Fail(record.SourceDistance, faults.ErrTimeout)
	return b.Build()
}

func TestMemoryRetainsNewest(t *testing.T) {
	m := NewMemory(2)
	_, ok := m.Latest()
	test.That(t, ok, test.ShouldBeFalse)

	for _, g := range []float64{1000, 2000, 3000} {
		test.That(t, m.Emit(sampleRecord(g)), test.ShouldBeNil)
	}
	recs := m.Records()
	test.That(t, len(recs), test.ShouldEqual, 2)
	test.That(t, *recs[0].WeightKg, test.ShouldEqual, 2.0)
	latest, ok := m.Latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, *latest.WeightKg, test.ShouldEqual, 3.0)
}

func TestMemorySubscribe(t *testing.T) {
	m := NewMemory(4)
	ch, cancel := m.Subscribe(1)
	test.That(t, m.Emit(sampleRecord(1500)), test.ShouldBeNil)
	// buffer full: dropped for this subscriber, still retained
	test.That(t, m.Emit(sampleRecord(2500)), test.ShouldBeNil)

	rec := <-ch
	test.That(t, *rec.WeightKg, test.ShouldEqual, 1.5)
	test.That(t, len(m.Records()), test.ShouldEqual, 2)

	cancel()
	cancel()
	_, open := <-ch
	test.That(t, open, test.ShouldBeFalse)
	test.That(t, m.Emit(sampleRecord(1)), test.ShouldBeNil)
}

type failingSink struct{ calls int }

func (f *failingSink) Emit(record.SensorRecord) error {
	f.calls++
	return errors.New("disk full")
}

func TestMultiDeliversToAll(t *testing.T) {
	bad := &failingSink{}
	mem := NewMemory(1)
	err := Multi{bad, mem}.Emit(sampleRecord(10))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, bad.calls, test.ShouldEqual, 1)
	_, ok := mem.Latest()
	test.That(t, ok, test.ShouldBeTrue)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewLog(zap.New(core))
	test.That(t, l.Emit(sampleRecord(2000)), test.ShouldBeNil)

	entries := logs.FilterMessage("sensor record").All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	fields := entries[0].ContextMap()
	test.That(t, fields["weight_kg"], test.ShouldEqual, 2.0)
	test.That(t, fields["distance_cm"], test.ShouldBeNil)
	test.That(t, fields["errors"], test.ShouldResemble, []interface{}{"timeout(distance)"})
}

func TestWebLatest(t *testing.T) {
	w := NewWeb(":0", zap.NewNop())
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/record")
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)

	test.That(t, w.Emit(sampleRecord(4200)), test.ShouldBeNil)
	resp, err = http.Get(srv.URL + "/api/record")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var rec record.SensorRecord
	test.That(t, json.NewDecoder(resp.Body).Decode(&rec), test.ShouldBeNil)
	test.That(t, *rec.WeightKg, test.ShouldEqual, 4.2)
	test.That(t, rec.DistanceCm, test.ShouldBeNil)
}

func TestWebStream(t *testing.T) {
	w := NewWeb(":0", zap.NewNop())
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()

	// the handler subscribes after the upgrade; keep emitting until a record arrives
	got := make(chan record.SensorRecord, 1)
	go func() {
		var rec record.SensorRecord
		if err := conn.ReadJSON(&rec); err == nil {
			got <- rec
		}
	}()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case rec := <-got:
			test.That(t, *rec.WeightKg, test.ShouldEqual, 0.5)
			test.That(t, rec.HasFault(faults.Timeout, record.SourceDistance), test.ShouldBeTrue)
			return
		case <-tick.C:
			test.That(t, w.Emit(sampleRecord(500)), test.ShouldBeNil)
		case <-deadline:
			t.Fatal("no record streamed")
		}
	}
}

type fakeToken struct{ err error }

func (f fakeToken) Wait() bool                     { return true }
func (f fakeToken) WaitTimeout(time.Duration) bool { return true }
func (f fakeToken) Error() error                   { return f.err }
func (f fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeClient struct {
	mqtt.Client
	topic    string
	retained bool
	payload  []byte
	err      error
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topic, f.retained, f.payload = topic, retained, payload.([]byte)
	return fakeToken{err: f.err}
}

func TestMQTTPublishesRetainedJSON(t *testing.T) {
	client := &fakeClient{}
	m := NewMQTT(client, "hive/record", zap.NewNop())
	test.That(t, m.Emit(sampleRecord(1234)), test.ShouldBeNil)
	test.That(t, client.topic, test.ShouldEqual, "hive/record")
	test.That(t, client.retained, test.ShouldBeTrue)

	var rec record.SensorRecord
	test.That(t, json.Unmarshal(client.payload, &rec), test.ShouldBeNil)
	test.That(t, *rec.WeightKg, test.ShouldAlmostEqual, 1.234, 1e-12)

	client.err = errors.New("not connected")
	test.That(t, m.Emit(sampleRecord(1)), test.ShouldNotBeNil)
}

type fakePanel struct {
	draws  int
	halted bool
}

func (p *fakePanel) Bounds() image.Rectangle { return image.Rect(0, 0, 128, 64) }
func (p *fakePanel) Draw(image.Rectangle, image.Image, image.Point) error {
	p.draws++
	return nil
}
func (p *fakePanel) Halt() error {
	p.halted = true
	return nil
}

func TestDisplay(t *testing.T) {
	lines := displayLines(sampleRecord(12340))
	test.That(t, lines, test.ShouldResemble, []string{
		"W: 12.34 kg",
		"T: 24.5C H: 61%",
		"D: --",
		"Bee:y Open:- !1",
	})

	panel := &fakePanel{}
	d := NewDisplay(panel)
	test.That(t, d.Splash("Hive"), test.ShouldBeNil)
	test.That(t, d.Emit(sampleRecord(1)), test.ShouldBeNil)
	test.That(t, panel.draws, test.ShouldEqual, 2)
	test.That(t, d.Close(), test.ShouldBeNil)
	test.That(t, panel.halted, test.ShouldBeTrue)
}
