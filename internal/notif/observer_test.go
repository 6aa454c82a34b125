package notif

import (
	"errors"
	"testing"

	"pollcast/internal/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockSink is a testify mock of a dispatch sink.
type MockSink struct {
	mock.Mock
	name string
}

func (m *MockSink) Name() string { return m.name }

func (m *MockSink) Deliver(d router.Dispatch) error {
	args := m.Called(d)
	return args.Error(0)
}

// MockRooms stands in for the session registry.
type MockRooms struct {
	mock.Mock
}

func (m *MockRooms) Deliver(room, event string, payload interface{}) int {
	args := m.Called(room, event, payload)
	return args.Int(0)
}

func TestDispatcher_SubscribeAndDispatch(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	sinkA := &MockSink{name: "a"}
	sinkB := &MockSink{name: "b"}
	d := router.Dispatch{Room: "user:alice", Event: router.EventNewNotification}

	sinkA.On("Deliver", d).Return(nil).Once()
	sinkB.On("Deliver", d).Return(nil).Once()

	dispatcher.Subscribe(sinkA)
	dispatcher.Subscribe(sinkB)
	dispatcher.Dispatch(d)

	sinkA.AssertExpectations(t)
	sinkB.AssertExpectations(t)
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	sink := &MockSink{name: "a"}

	dispatcher.Subscribe(sink)
	dispatcher.Unsubscribe(sink)
	dispatcher.Dispatch(router.Dispatch{Room: "user:alice", Event: router.EventNewNotification})

	sink.AssertNotCalled(t, "Deliver", mock.Anything)
}

func TestDispatcher_SinkErrorDoesNotStopFanOut(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	failing := &MockSink{name: "a-failing"}
	healthy := &MockSink{name: "b-healthy"}
	d := router.Dispatch{Room: "resource:p1", Event: router.EventPollUpdate}

	failing.On("Deliver", d).Return(errors.New("socket gone"))
	healthy.On("Deliver", d).Return(nil)

	dispatcher.Subscribe(failing)
	dispatcher.Subscribe(healthy)
	assert.NotPanics(t, func() { dispatcher.Dispatch(d) })

	failing.AssertExpectations(t)
	healthy.AssertExpectations(t)
}

func TestDispatcher_PreservesOrder(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	sink := &recordingSink{}
	dispatcher.Subscribe(sink)

	first := router.Dispatch{Room: "resource:p1", Event: router.EventPollUpdate}
	second := router.Dispatch{Room: "resource:p1", Event: router.EventPollClosed}
	dispatcher.Dispatch(first, second)
	dispatcher.Dispatch(router.Dispatch{Room: "*", Event: router.EventNewPoll})

	assert.Equal(t, []string{router.EventPollUpdate, router.EventPollClosed}, sink.Events("resource:p1"))
	assert.Len(t, sink.All(), 3)
}

func TestRealtimeSink_Deliver(t *testing.T) {
	rooms := &MockRooms{}
	sink := NewRealtimeSink(rooms, nil)

	rooms.On("Deliver", "user:alice", router.EventNewNotification, "payload").Return(2).Once()
	rooms.On("Deliver", "user:nobody", router.EventNewNotification, "payload").Return(0).Once()

	assert.NoError(t, sink.Deliver(router.Dispatch{Room: "user:alice", Event: router.EventNewNotification, Payload: "payload"}))
	assert.NoError(t, sink.Deliver(router.Dispatch{Room: "user:nobody", Event: router.EventNewNotification, Payload: "payload"}))
	rooms.AssertExpectations(t)
}

func TestRealtimeSink_RecoversTransportPanic(t *testing.T) {
	rooms := &MockRooms{}
	sink := NewRealtimeSink(rooms, nil)

	rooms.On("Deliver", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("write on closed socket")
	})

	err := sink.Deliver(router.Dispatch{Room: "user:alice", Event: router.EventNewNotification})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "write on closed socket")
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(nil)
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Deliver(router.Dispatch{Room: "*", Event: router.EventNewPoll}))
}
