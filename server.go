package garagepi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DeviceTypeSerial = "serial"
	DeviceTypeSensor = "bme280"

	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"

	statusQueue = 4
)

// Sensor is the part of *Dev the server needs.
type Sensor interface {
	Read() (Reading, error)
	ReadID() (Identity, error)
}

// SensorReading is a timestamped reading as broadcast and stored.
type SensorReading struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // unix micros
	Reading
}

type StatusMessage struct {
	Type   string `json:"type"`
	Device string `json:"device"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ServerOpts configures a Server.
type ServerOpts struct {
	// Interval between sensor reads. Defaults to 2s.
	Interval time.Duration
	// StaticDir is served at / when set.
	StaticDir string
	// Recorder stores every reading when set.
	Recorder *DataRecorder
}

type Server struct {
	sensor     Sensor
	recorder   *DataRecorder
	hub        *Hub
	mux        *http.ServeMux
	readings   chan SensorReading
	statusChan chan StatusMessage

	serialMux  sync.Mutex
	forwarder  *SerialForwarder
	openSerial func(name string, baud int) (*SerialForwarder, error)
	listPorts  func() ([]string, error)

	mu         sync.Mutex
	interval   time.Duration
	intervalCh chan time.Duration
	latest     *SensorReading
}

func NewServer(sensor Sensor, opts ServerOpts) *Server {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	s := &Server{
		sensor:     sensor,
		recorder:   opts.Recorder,
		hub:        NewHub(),
		mux:        http.NewServeMux(),
		readings:   make(chan SensorReading),
		statusChan: make(chan StatusMessage, statusQueue),
		openSerial: OpenSerialForwarder,
		listPorts:  ListSerialPorts,
		interval:   opts.Interval,
		intervalCh: make(chan time.Duration, 1),
	}

	if opts.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(opts.StaticDir)))
	}
	s.mux.HandleFunc("/serial_ports", s.handleListSerialPorts)
	s.mux.HandleFunc("/connect", s.handleConnectSerialPort)
	s.mux.HandleFunc("/serial_status", s.handleSerialStatus)
	s.mux.HandleFunc("/interval", s.handleInterval)
	s.mux.HandleFunc("/identity", s.handleIdentity)
	s.mux.HandleFunc("/latest", s.handleLatest)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.Handle("/ws", s.hub)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start polls the sensor and serves HTTP on addr until ctx is done. It
// returns once the poller and broadcaster have stopped, so the recorder may
// be closed afterwards.
func (s *Server) Start(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.broadcastMessages(ctx)
	}()
	go func() {
		defer wg.Done()
		s.monitorSensor(ctx)
	}()

	srv := &http.Server{Addr: addr, Handler: s.mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Printf("Starting web server on %s", addr)
	err := srv.ListenAndServe()
	cancel()
	wg.Wait()
	s.closeSerial()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// broadcastMessages is the only writer to the hub. It closes the hub when
// ctx is done.
func (s *Server) broadcastMessages(ctx context.Context) {
	defer s.hub.Close()
	for {
		select {
		case reading := <-s.readings:
			s.hub.send(reading)
		case status := <-s.statusChan:
			s.hub.send(status)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) monitorSensor(ctx context.Context) {
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			reading, err := s.sample()
			if err != nil {
				log.Printf("Error reading BME280: %v", err)
				s.notify(StatusMessage{Device: DeviceTypeSensor, Status: StatusError, Error: err.Error()})
				continue
			}
			select {
			case s.readings <- reading:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sample takes one reading and hands it to the recorder and serial port.
func (s *Server) sample() (SensorReading, error) {
	r, err := s.sensor.Read()
	if err != nil {
		return SensorReading{}, err
	}
	reading := SensorReading{
		Type:      "BME280",
		Timestamp: time.Now().UnixMicro(),
		Reading:   r,
	}

	s.mu.Lock()
	s.latest = &reading
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.Record(reading.Timestamp, r); err != nil {
			log.Println("Error writing to database:", err)
		}
	}
	s.forward(reading)
	return reading, nil
}

func (s *Server) forward(reading SensorReading) {
	s.serialMux.Lock()
	defer s.serialMux.Unlock()

	if s.forwarder == nil {
		return
	}
	if err := s.forwarder.Forward(time.UnixMicro(reading.Timestamp), reading.Reading); err != nil {
		log.Printf("Serial write to %s failed: %v", s.forwarder.Name(), err)
		s.forwarder.Close()
		s.forwarder = nil
		s.notify(StatusMessage{Device: DeviceTypeSerial, Status: StatusDisconnected, Error: err.Error()})
	}
}

// notify queues a status for the broadcaster, dropping it when statusQueue
// messages are already pending.
func (s *Server) notify(status StatusMessage) {
	status.Type = "status"
	select {
	case s.statusChan <- status:
	default:
	}
}

func (s *Server) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Server) setInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()

	// Keep only the newest pending change.
	select {
	case <-s.intervalCh:
	default:
	}
	s.intervalCh <- d
}

func (s *Server) handleListSerialPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.listPorts()
	if err != nil {
		http.Error(w, "Failed to list serial ports", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(ports)
}

func (s *Server) handleConnectSerialPort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PortName string `json:"port_name"`
		BaudRate int    `json:"baud_rate"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PortName == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.BaudRate <= 0 {
		req.BaudRate = 9600
	}

	s.serialMux.Lock()
	defer s.serialMux.Unlock()

	// Close existing port if connected
	if s.forwarder != nil {
		s.forwarder.Close()
		s.forwarder = nil
	}

	fw, err := s.openSerial(req.PortName, req.BaudRate)
	if err != nil {
		log.Printf("Failed to open serial port %s: %v", req.PortName, err)
		s.notify(StatusMessage{Device: DeviceTypeSerial, Status: StatusError, Error: err.Error()})
		http.Error(w, "Failed to open serial port", http.StatusInternalServerError)
		return
	}

	s.forwarder = fw
	log.Printf("Connected to %s with baud rate %d", req.PortName, req.BaudRate)
	s.notify(StatusMessage{Device: DeviceTypeSerial, Status: StatusConnected})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getCurrentSerialStatus() StatusMessage {
	s.serialMux.Lock()
	defer s.serialMux.Unlock()

	if s.forwarder == nil {
		return StatusMessage{
			Type:   "status",
			Device: DeviceTypeSerial,
			Status: StatusDisconnected,
		}
	}
	return StatusMessage{
		Type:   "status",
		Device: DeviceTypeSerial,
		Status: StatusConnected,
	}
}

func (s *Server) handleSerialStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.getCurrentSerialStatus())
}

func (s *Server) closeSerial() {
	s.serialMux.Lock()
	defer s.serialMux.Unlock()
	if s.forwarder != nil {
		s.forwarder.Close()
		s.forwarder = nil
	}
}

// handleInterval reads or sets the poll interval in milliseconds.
func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(map[string]int64{
			"value": s.Interval().Milliseconds(),
		})

	case http.MethodPost:
		var req struct {
			Value int64 `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value < 100 {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		s.setInterval(time.Duration(req.Value) * time.Millisecond)
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := s.sensor.ReadID()
	if err != nil {
		log.Printf("Error reading BME280 id: %v", err)
		http.Error(w, "Failed to read sensor id", http.StatusBadGateway)
		return
	}
	json.NewEncoder(w).Encode(id.Map())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()

	if latest == nil {
		http.Error(w, "No reading yet", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(latest)
}

// handleHistory returns stored readings between start and end (unix
// micros). The default window is the last 24 hours.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		http.Error(w, "History not recorded", http.StatusServiceUnavailable)
		return
	}

	end := time.Now().UnixMicro()
	start := end - (24 * time.Hour).Microseconds()
	q := r.URL.Query()
	for name, dst := range map[string]*int64{"start": &start, "end": &end} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid "+name, http.StatusBadRequest)
			return
		}
		*dst = n
	}

	data, err := s.recorder.GetHistoricalData(start, end)
	if err != nil {
		log.Printf("Error querying history: %v", err)
		http.Error(w, "Failed to query history", http.StatusInternalServerError)
		return
	}
	if data == nil {
		data = []HistoricalData{}
	}
	json.NewEncoder(w).Encode(data)
}
