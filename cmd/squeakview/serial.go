package main

import (
	"context"
	"errors"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/squeakview/internal/monitoring"
	"github.com/banshee-data/squeakview/internal/serialmux"
	"github.com/banshee-data/squeakview/internal/timeutil"
)

type serialPort = serial.Port

// startSerial opens the behaviour device and records every line it sends
// to csvPath until ctx is done.
func startSerial(ctx context.Context, wg *sync.WaitGroup, o Options, csvPath string, clock timeutil.Clock) (*serialmux.SerialMux[serialPort], *serialmux.Recorder, error) {
	mux, err := serialmux.OpenSerialMux(o.SerialPort, serialmux.PortOptions{BaudRate: o.SerialBaud}, o.SerialOpener)
	if err != nil {
		return nil, nil, err
	}
	rec, err := serialmux.CreateRecorder(csvPath, serialmux.DefaultFlushEvery)
	if err != nil {
		mux.Close()
		return nil, nil, err
	}
	rec.SetClock(clock)
	monitoring.Opsf("[SER] recording %s to %s", o.SerialPort, csvPath)

	id, lines := mux.Subscribe(256)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Opsf("[SER] monitor: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		defer mux.Unsubscribe(id)
		rec.Run(ctx, lines)
	}()
	return mux, rec, nil
}
