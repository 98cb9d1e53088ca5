package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/pandalab/grblmill/channel"
	"github.com/pandalab/grblmill/mill"
)

func main() {
	log.SetFlags(log.Lshortfile)

	port := flag.String("port", "/dev/ttyUSB0", "Serial device of the mill.")
	baud := flag.Int("baud", 115200, "Serial baud rate.")
	bridgeURL := flag.String("bridge", "", "Websocket URL of a remote serial bridge (overrides -port).")
	sim := flag.Bool("sim", false, "Run against the simulated mill instead of hardware.")
	addr := flag.String("addr", ":9092", "Address to bind the mill API to.")
	configFile := flag.String("config", "mill_config.json", "Mill configuration file.")
	flag.Parse()

	var ch channel.Channel
	switch {
	case *sim:
		ch = channel.NewSim()
	case *bridgeURL != "":
		ch = channel.NewBridge(*bridgeURL)
	default:
		ch = channel.NewSerial(*port, *baud)
	}

	ctrl, err := mill.New(mill.FileStore{Path: *configFile}, ch, nil)
	if err != nil {
		log.Fatal(err)
	}

	if err := ctrl.Connect(); err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := ctrl.Disconnect(); err != nil {
			log.Printf("ERROR: disconnect: %v", err)
		}
	}()

	api := newAPI(ctrl)
	log.Printf("mill API on %s", *addr)
	err = http.ListenAndServe(*addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
		api.ServeHTTP(w, req)
	}))
	if err != nil {
		log.Fatal(err)
	}
}
