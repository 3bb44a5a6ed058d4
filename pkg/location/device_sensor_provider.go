package location

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// maxSentences bounds how many lines GetLocation reads while waiting for a fix.
const maxSentences = 50

// DeviceSensorProvider reads location data from a GPS receiver on a serial port.
type DeviceSensorProvider struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication

	mu     sync.Mutex
	conn   io.ReadCloser
	reader *bufio.Reader
	open   func(*serial.Config) (io.ReadCloser, error)
}

// NewDeviceSensorProvider creates a new instance of DeviceSensorProvider with the specified port and baud rate.
func NewDeviceSensorProvider(port string, baudRate int) *DeviceSensorProvider {
	return &DeviceSensorProvider{
		port:     port,
		baudRate: baudRate,
		open: func(c *serial.Config) (io.ReadCloser, error) {
			return serial.OpenPort(c)
		},
	}
}

// GetLocation reads sentences until one yields a fix. The port stays open between calls.
func (d *DeviceSensorProvider) GetLocation() (Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		conn, err := d.open(&serial.Config{Name: d.port, Baud: d.baudRate, ReadTimeout: 2 * time.Second})
		if err != nil {
			return Location{}, err
		}
		d.conn = conn
		d.reader = bufio.NewReader(conn)
	}

	for i := 0; i < maxSentences; i++ {
		line, err := d.reader.ReadString('\n')
		if err != nil && line == "" {
			// Drop the port so the next call reopens it.
			d.closeLocked()
			return Location{}, err
		}

		loc, perr := ParseSentence(line)
		if perr == nil {
			return loc, nil
		}
	}

	return Location{}, errors.New("no valid GPS data found")
}

// Close releases the serial port.
func (d *DeviceSensorProvider) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

func (d *DeviceSensorProvider) closeLocked() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.reader = nil
	return err
}
