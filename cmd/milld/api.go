package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pandalab/grblmill/coord"
	"github.com/pandalab/grblmill/mill"
)

type api struct {
	http.Handler
	ctrl *mill.Controller
	sse  *sse.Server

	// one serial line, one command in flight: requests take turns
	mx sync.Mutex
}

func newAPI(ctrl *mill.Controller) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		ctrl:    ctrl,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}

	r.HandleFunc("/api/move", a.move).Methods("POST")
	r.HandleFunc("/api/home", a.home).Methods("POST")
	r.HandleFunc("/api/position", a.position).Methods("GET")
	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/settings", a.settings).Methods("GET")
	r.HandleFunc("/api/offset", a.offset).Methods("POST")
	r.HandleFunc("/api/electrode/rinse", a.rinse).Methods("POST")
	r.HandleFunc("/api/electrode/rest", a.rest).Methods("POST")
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/events/").Handler(a.sse)

	go a.pollState()

	return a
}

type stateEvent struct {
	State    string      `json:"state"`
	Position coord.Point `json:"position"`
	Homed    bool        `json:"homed"`
}

func (a *api) pollState() {
	for range time.NewTicker(time.Second).C {
		a.mx.Lock()
		state, pos, err := a.ctrl.MachineStatus()
		homed := a.ctrl.State().Homed
		a.mx.Unlock()
		if err != nil {
			log.Printf("ERROR: poll state: %v", err)
			continue
		}
		data, err := json.Marshal(stateEvent{State: string(state), Position: pos, Homed: homed})
		if err != nil {
			log.Printf("ERROR: marshal state: %v", err)
			continue
		}
		a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
	}
}

func (a *api) fail(w http.ResponseWriter, op string, err error) {
	log.Printf("ERROR: %s: %v", op, err)
	errorCount.WithLabelValues(op).Inc()
	code := http.StatusInternalServerError
	var oor *mill.OutOfRangeError
	if errors.As(err, &oor) || errors.Is(err, mill.ErrNotHomed) {
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}

type moveRequest struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          float64  `json:"z"`
	Instrument string   `json:"instrument"`
	PlungeZ    *float64 `json:"plunge_z,omitempty"`
	PlungeFeed int      `json:"plunge_feed,omitempty"`
}

func (a *api) move(w http.ResponseWriter, req *http.Request) {
	var mr moveRequest
	if err := json.NewDecoder(req.Body).Decode(&mr); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	instrument, err := mill.ParseInstrument(mr.Instrument)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var opts []mill.MoveOption
	if mr.PlungeZ != nil {
		opts = append(opts, mill.WithPlunge(*mr.PlungeZ, mr.PlungeFeed))
	}

	a.mx.Lock()
	start := time.Now()
	pos, err := a.ctrl.SafeMove(coord.Point{X: mr.X, Y: mr.Y, Z: mr.Z}, instrument, opts...)
	a.mx.Unlock()
	if err != nil {
		a.fail(w, "move", err)
		return
	}
	moveSeconds.Observe(time.Since(start).Seconds())
	commandCount.WithLabelValues("move").Inc()
	json.NewEncoder(w).Encode(pos)
}

func (a *api) home(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	err := a.ctrl.Home()
	homed := a.ctrl.State().Homed
	a.mx.Unlock()
	if err != nil {
		a.fail(w, "home", err)
		return
	}
	commandCount.WithLabelValues("home").Inc()
	json.NewEncoder(w).Encode(map[string]bool{"homed": homed})
}

func (a *api) position(w http.ResponseWriter, req *http.Request) {
	name := req.FormValue("instrument")
	if name == "" {
		name = string(mill.Center)
	}
	instrument, err := mill.ParseInstrument(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.mx.Lock()
	pos, err := a.ctrl.CurrentCoordinates(instrument)
	a.mx.Unlock()
	if err != nil {
		a.fail(w, "position", err)
		return
	}
	json.NewEncoder(w).Encode(pos)
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	state, pos, err := a.ctrl.MachineStatus()
	homed := a.ctrl.State().Homed
	a.mx.Unlock()
	if err != nil {
		a.fail(w, "status", err)
		return
	}
	json.NewEncoder(w).Encode(stateEvent{State: string(state), Position: pos, Homed: homed})
}

func (a *api) settings(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	settings, err := a.ctrl.Settings()
	a.mx.Unlock()
	if err != nil {
		a.fail(w, "settings", err)
		return
	}
	json.NewEncoder(w).Encode(settings)
}

type offsetRequest struct {
	Instrument string  `json:"instrument"`
	DX         float64 `json:"dx"`
	DY         float64 `json:"dy"`
	DZ         float64 `json:"dz"`
}

func (a *api) offset(w http.ResponseWriter, req *http.Request) {
	var or offsetRequest
	if err := json.NewDecoder(req.Body).Decode(&or); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	instrument, err := mill.ParseInstrument(or.Instrument)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.mx.Lock()
	err = a.ctrl.UpdateOffset(instrument, coord.Point{X: or.DX, Y: or.DY, Z: or.DZ})
	offset := a.ctrl.Config().Offset(instrument)
	a.mx.Unlock()
	if err != nil {
		a.fail(w, "offset", err)
		return
	}
	commandCount.WithLabelValues("offset").Inc()
	json.NewEncoder(w).Encode(offset)
}

func (a *api) rinse(w http.ResponseWriter, req *http.Request) {
	rinses := 3
	if v := req.FormValue("rinses"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid rinses value", http.StatusBadRequest)
			return
		}
		rinses = n
	}

	a.mx.Lock()
	err := a.ctrl.RinseElectrode(rinses)
	a.mx.Unlock()
	if err != nil {
		a.fail(w, "rinse", err)
		return
	}
	commandCount.WithLabelValues("rinse").Inc()
}

func (a *api) rest(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	err := a.ctrl.RestElectrode()
	a.mx.Unlock()
	if err != nil {
		a.fail(w, "rest", err)
		return
	}
	commandCount.WithLabelValues("rest").Inc()
}
