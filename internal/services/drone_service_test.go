package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tidewatch/drone-coordinator/internal/constants"
	"github.com/tidewatch/drone-coordinator/internal/mocks"
	"github.com/tidewatch/drone-coordinator/internal/models"
)

const ggaFix = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"

func newTestDroneService(t *testing.T, timeout time.Duration) (*DroneService, *mocks.MockMQTTClient) {
	t.Helper()
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", mock.Anything, byte(constants.CommandQOS), mock.Anything).Return(mocks.NewCompletedToken(nil))
	ds := NewDroneService("drones", timeout, client, zerolog.Nop())
	ds.HandleConnect()
	return ds, client
}

func healthyDrone(id string) models.Drone {
	return models.Drone{
		ID:       id,
		Name:     "Explorer " + id,
		Status:   models.DroneStatusIdle,
		Position: &models.Position{Lat: 59.9, Lng: 10.7, Depth: 10},
		Battery:  80,
		Signal:   90,
	}
}

func sendStatus(ds *DroneService, droneID string, payload interface{}) {
	var b []byte
	switch p := payload.(type) {
	case string:
		b = []byte(p)
	default:
		b, _ = json.Marshal(p)
	}
	ds.HandleMessage(nil, mocks.NewMockMessage("drones/"+droneID+"/status", b))
}

func TestDroneService_HandleConnect_SubscribesToDroneTopics(t *testing.T) {
	ds, client := newTestDroneService(t, time.Second)

	assert.True(t, ds.IsConnected())
	client.AssertCalled(t, "Subscribe", "drones/+/status", byte(1), mock.Anything)
	client.AssertCalled(t, "Subscribe", "drones/+/response", byte(1), mock.Anything)
}

func TestDroneService_HandleConnectionLost(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)

	ds.HandleConnectionLost(errors.New("network down"))

	assert.False(t, ds.IsConnected())
}

func TestDroneService_StartStop(t *testing.T) {
	ds, client := newTestDroneService(t, time.Second)
	client.On("Unsubscribe", []string{"drones/+/status", "drones/+/response"}).Return(mocks.NewCompletedToken(nil))

	require.NoError(t, ds.Start())
	err := ds.Start()
	assert.EqualError(t, err, "drone service is already running")

	require.NoError(t, ds.Stop())
	err = ds.Stop()
	assert.EqualError(t, err, "drone service is not running")

	client.AssertNumberOfCalls(t, "Unsubscribe", 1)
}

func TestDroneService_Stop_WhileDisconnectedSkipsUnsubscribe(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	ds := NewDroneService("drones", time.Second, client, zerolog.Nop())

	require.NoError(t, ds.Start())
	require.NoError(t, ds.Stop())

	client.AssertNotCalled(t, "Unsubscribe", mock.Anything)
}

func TestDroneService_SendCommand_UnknownDrone(t *testing.T) {
	ds, client := newTestDroneService(t, time.Second)

	resp := ds.SendCommand(context.Background(), "ghost", models.CommandPause, nil)

	assert.False(t, resp.Success)
	assert.Equal(t, "ghost", resp.DroneID)
	assert.Equal(t, constants.CodeValidationFailed, resp.Code)
	assert.Equal(t, []string{constants.ErrMsgDroneNotFound}, resp.Errors)
	assert.Equal(t, constants.ErrMsgDroneNotFound, resp.Message)
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDroneService_SendCommand_Publishes(t *testing.T) {
	ds, client := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d1"))
	before, _ := ds.GetDrone("d1")

	var published []byte
	client.On("Publish", "drones/d1/command", byte(1), false, mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(3).([]byte) }).
		Return(mocks.NewCompletedToken(nil))

	params := models.CommandParams{"target": map[string]interface{}{"lat": 60.0, "lng": 11.0}}
	resp := ds.SendCommand(context.Background(), "d1", models.CommandMove, params)

	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, constants.MsgCommandDispatched, resp.Message)
	assert.Equal(t, models.CommandMove, resp.Command)
	assert.Empty(t, resp.Code)

	// Dispatch does not imply execution: the record only changes when the drone reports.
	after, _ := ds.GetDrone("d1")
	assert.Equal(t, before, after)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(published, &envelope))
	assert.Equal(t, "d1", envelope["droneId"])
	assert.Equal(t, "move", envelope["command"])
	assert.Contains(t, envelope, "timestamp")
	target := envelope["params"].(map[string]interface{})["target"].(map[string]interface{})
	assert.Equal(t, 60.0, target["lat"])
}

func TestDroneService_SendCommand_LowBattery(t *testing.T) {
	ds, client := newTestDroneService(t, time.Second)
	d := healthyDrone("d1")
	d.Battery = 5
	ds.RegisterMockDevice(d)
	client.On("Publish", "drones/d1/command", byte(1), false, mock.Anything).Return(mocks.NewCompletedToken(nil))

	resp := ds.SendCommand(context.Background(), "d1", models.CommandScan, nil)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Errors, constants.ErrMsgLowBattery)
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	resp = ds.SendCommand(context.Background(), "d1", models.CommandReturn, nil)
	assert.True(t, resp.Success)
	client.AssertNumberOfCalls(t, "Publish", 1)
}

func TestDroneService_SendCommand_NotConnected(t *testing.T) {
	ds, client := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d1"))
	ds.HandleConnectionLost(errors.New("broker restarted"))

	resp := ds.SendCommand(context.Background(), "d1", models.CommandPause, nil)

	assert.False(t, resp.Success)
	assert.Equal(t, constants.CodeNotConnected, resp.Code)
	assert.Equal(t, constants.ErrMsgNotConnected, resp.Message)
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDroneService_SendCommand_PublishError(t *testing.T) {
	ds, client := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d1"))
	client.On("Publish", "drones/d1/command", byte(1), false, mock.Anything).
		Return(mocks.NewCompletedToken(errors.New("broker gone")))

	resp := ds.SendCommand(context.Background(), "d1", models.CommandPause, nil)

	assert.False(t, resp.Success)
	assert.Equal(t, constants.CodePublishFailed, resp.Code)
	assert.Equal(t, "broker gone", resp.Message)
}

func TestDroneService_SendCommand_Timeout(t *testing.T) {
	ds, client := newTestDroneService(t, 20*time.Millisecond)
	ds.RegisterMockDevice(healthyDrone("d1"))
	client.On("Publish", "drones/d1/command", byte(1), false, mock.Anything).Return(mocks.NewPendingToken())

	start := time.Now()
	resp := ds.SendCommand(context.Background(), "d1", models.CommandSurface, nil)

	assert.False(t, resp.Success)
	assert.Equal(t, constants.CodeTimeout, resp.Code)
	assert.Equal(t, constants.ErrMsgPublishTimeout, resp.Message)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDroneService_SendCommand_Cancelled(t *testing.T) {
	ds, client := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d1"))
	client.On("Publish", "drones/d1/command", byte(1), false, mock.Anything).Return(mocks.NewPendingToken())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := ds.SendCommand(ctx, "d1", models.CommandSurface, nil)

	assert.False(t, resp.Success)
	assert.Equal(t, constants.CodePublishFailed, resp.Code)
}

func TestDroneService_Status_MergesPartialUpdate(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d1"))

	sendStatus(ds, "d1", map[string]interface{}{"battery": 50, "status": "active"})

	d, ok := ds.GetDrone("d1")
	require.True(t, ok)
	assert.Equal(t, 50.0, d.Battery)
	assert.Equal(t, models.DroneStatusActive, d.Status)
	assert.Equal(t, "Explorer d1", d.Name)
	assert.Equal(t, 90.0, d.Signal)
	require.NotNil(t, d.Position)
	assert.Equal(t, 10.0, d.Position.Depth)
}

func TestDroneService_Status_FirstMessageWithoutStatusIsOffline(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)

	sendStatus(ds, "d9", map[string]interface{}{})

	d, ok := ds.GetDrone("d9")
	require.True(t, ok)
	assert.Equal(t, models.DroneStatusOffline, d.Status)

	result := ds.ValidateCommand("d9", models.CommandReturn, nil)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, constants.ErrMsgDroneOffline)

	sendStatus(ds, "d9", map[string]interface{}{"status": "idle", "battery": 60, "signal": 60})
	result = ds.ValidateCommand("d9", models.CommandReturn, nil)
	assert.True(t, result.Valid)
}

func TestDroneService_Status_CreatesUnknownDrone(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)

	sendStatus(ds, "d7", map[string]interface{}{"name": "Newcomer", "status": "idle", "battery": 70, "signal": 60})

	d, ok := ds.GetDrone("d7")
	require.True(t, ok)
	assert.Equal(t, "d7", d.ID)
	assert.Equal(t, "Newcomer", d.Name)
	assert.False(t, d.LastUpdate.IsZero())
	assert.Equal(t, 1, ds.DroneCount())
}

func TestDroneService_Status_LastUpdateNeverMovesBackwards(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	later := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Minute)

	ds.now = func() time.Time { return later }
	ds.RegisterMockDevice(healthyDrone("d1"))

	ds.now = func() time.Time { return earlier }
	sendStatus(ds, "d1", map[string]interface{}{"battery": 40})

	d, _ := ds.GetDrone("d1")
	assert.Equal(t, later, d.LastUpdate)
	assert.Equal(t, 40.0, d.Battery)
}

func TestDroneService_Status_RejectsInvalidPayloads(t *testing.T) {
	cases := map[string]interface{}{
		"malformed json":   "{not json",
		"unknown status":   map[string]interface{}{"status": "flying"},
		"battery too high": map[string]interface{}{"battery": 140},
		"negative signal":  map[string]interface{}{"signal": -1},
		"negative depth":   map[string]interface{}{"position": map[string]interface{}{"lat": 1, "lng": 1, "depth": -5}},
		"latitude range":   map[string]interface{}{"position": map[string]interface{}{"lat": 95, "lng": 1, "depth": 0}},
		"id mismatch":      map[string]interface{}{"id": "d2", "battery": 30},
		"bad nmea":         map[string]interface{}{"nmea": "garbage"},
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			ds, _ := newTestDroneService(t, time.Second)
			ds.RegisterMockDevice(healthyDrone("d1"))

			notified := 0
			ds.Subscribe(func([]models.Drone) { notified++ })

			sendStatus(ds, "d1", payload)

			d, _ := ds.GetDrone("d1")
			assert.Equal(t, healthyDrone("d1").Battery, d.Battery)
			assert.Equal(t, healthyDrone("d1").Status, d.Status)
			assert.Equal(t, 0, notified)
			assert.Equal(t, 1, ds.DroneCount())
		})
	}
}

func TestDroneService_Status_NMEAFixKeepsDepth(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	d := healthyDrone("d1")
	d.Position.Depth = 120
	ds.RegisterMockDevice(d)

	sendStatus(ds, "d1", map[string]interface{}{"nmea": ggaFix})

	got, _ := ds.GetDrone("d1")
	require.NotNil(t, got.Position)
	assert.InDelta(t, 48.1173, got.Position.Lat, 1e-4)
	assert.InDelta(t, 11.5166, got.Position.Lng, 1e-4)
	assert.Equal(t, 120.0, got.Position.Depth)
}

func TestDroneService_ResponseDoesNotChangeRegistry(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d1"))
	before, _ := ds.GetDrone("d1")

	notified := 0
	ds.Subscribe(func([]models.Drone) { notified++ })

	payload := []byte(`{"success":false,"droneId":"d1","command":"dive","message":"ballast fault"}`)
	ds.HandleMessage(nil, mocks.NewMockMessage("drones/d1/response", payload))
	ds.HandleMessage(nil, mocks.NewMockMessage("drones/d1/response", []byte("garbage")))

	after, _ := ds.GetDrone("d1")
	assert.Equal(t, before, after)
	assert.Equal(t, 0, notified)
}

func TestDroneService_IgnoresUnexpectedTopics(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)

	ds.HandleMessage(nil, mocks.NewMockMessage("other/d1/status", []byte(`{"battery":10}`)))
	ds.HandleMessage(nil, mocks.NewMockMessage("drones/d1/extra/status", []byte(`{"battery":10}`)))
	ds.HandleMessage(nil, mocks.NewMockMessage("drones/d1/telemetry", []byte(`{"battery":10}`)))

	assert.Empty(t, ds.GetDrones())
}

func TestDroneService_SubscribeReceivesFullList(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d2"))

	var received [][]models.Drone
	unsubscribe := ds.Subscribe(func(drones []models.Drone) { received = append(received, drones) })

	sendStatus(ds, "d1", map[string]interface{}{"status": "idle", "battery": 60})

	require.Len(t, received, 1)
	require.Len(t, received[0], 2)
	assert.Equal(t, "d1", received[0][0].ID)
	assert.Equal(t, "d2", received[0][1].ID)

	unsubscribe()
	unsubscribe()
	sendStatus(ds, "d1", map[string]interface{}{"battery": 55})
	assert.Len(t, received, 1)
}

func TestDroneService_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)

	ds.Subscribe(func([]models.Drone) { panic("listener bug") })
	calls := 0
	ds.Subscribe(func([]models.Drone) { calls++ })

	ds.RegisterMockDevice(healthyDrone("d1"))

	assert.Equal(t, 1, calls)
	_, ok := ds.GetDrone("d1")
	assert.True(t, ok)
}

func TestDroneService_ListenerCopiesAreIndependent(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	ds.Subscribe(func(drones []models.Drone) {
		drones[0].Battery = 0
		drones[0].Position.Depth = 999
	})

	ds.RegisterMockDevice(healthyDrone("d1"))

	d, _ := ds.GetDrone("d1")
	assert.Equal(t, 80.0, d.Battery)
	assert.Equal(t, 10.0, d.Position.Depth)
}

func TestDroneService_ClearNotifiesEmptyList(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d1"))
	ds.RegisterMockDevice(healthyDrone("d2"))

	var last []models.Drone
	ds.Subscribe(func(drones []models.Drone) { last = drones })

	ds.Clear()

	assert.NotNil(t, last)
	assert.Empty(t, last)
	assert.Empty(t, ds.GetDrones())
	_, ok := ds.GetDrone("d1")
	assert.False(t, ok)
}

func TestDroneService_RegisterMockDeviceReplaces(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d1"))

	replacement := models.Drone{ID: "d1", Name: "Replacement", Status: models.DroneStatusPaused, Battery: 30, Signal: 30}
	ds.RegisterMockDevice(replacement)

	d, _ := ds.GetDrone("d1")
	assert.Equal(t, "Replacement", d.Name)
	assert.Nil(t, d.Position)
	assert.Equal(t, 1, ds.DroneCount())
}

func TestDroneService_RegisterMockDeviceRoundTrip(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	temperature := 11.5
	d := models.Drone{
		ID:          "d1",
		Name:        "Explorer",
		Status:      models.DroneStatusActive,
		Position:    &models.Position{Lat: 59.9, Lng: 10.7, Depth: 42},
		Battery:     66,
		Signal:      77,
		Temperature: &temperature,
		Mission:     "pipeline-survey-07",
		Errors:      []string{"sonar degraded"},
	}

	ds.RegisterMockDevice(d)

	got, ok := ds.GetDrone("d1")
	require.True(t, ok)
	assert.False(t, got.LastUpdate.IsZero())
	got.LastUpdate = d.LastUpdate
	assert.Equal(t, d, got)
}

func TestDroneService_ValidateCommandIsPure(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	d := healthyDrone("d1")
	d.Battery = 5
	ds.RegisterMockDevice(d)
	before, _ := ds.GetDrone("d1")

	params := models.CommandParams{"target": map[string]interface{}{"lat": 95.0, "lng": 10.0}}
	first := ds.ValidateCommand("d1", models.CommandMove, params)
	second := ds.ValidateCommand("d1", models.CommandMove, params)

	assert.Equal(t, first, second)
	assert.False(t, first.Valid)
	after, _ := ds.GetDrone("d1")
	assert.Equal(t, before, after)
}

func TestDroneService_GetDronesReturnsCopies(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	ds.RegisterMockDevice(healthyDrone("d1"))

	drones := ds.GetDrones()
	drones[0].Name = "mutated"
	drones[0].Position.Lat = 0

	d, _ := ds.GetDrone("d1")
	assert.Equal(t, "Explorer d1", d.Name)
	assert.Equal(t, 59.9, d.Position.Lat)
}

func TestDroneService_ValidateCommand_DiveDepth(t *testing.T) {
	ds, _ := newTestDroneService(t, time.Second)
	d := healthyDrone("d1")
	d.Position.Depth = 420
	ds.RegisterMockDevice(d)

	result := ds.ValidateCommand("d1", models.CommandDive, models.CommandParams{"depth": 450})
	assert.False(t, result.Valid)
	assert.Equal(t, []string{constants.ErrMsgUnsafeDepth}, result.Errors)

	result = ds.ValidateCommand("d1", models.CommandDive, models.CommandParams{"depth": 300})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}
