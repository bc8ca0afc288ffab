/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/mock"
)

// MockLoggerSink is a logr.LogSink that records every call.
type MockLoggerSink struct {
	mock.Mock

	messagesLock sync.Mutex
	messages     []string
}

// NewMockLoggerSink returns a sink that accepts any log call at any level.
// Derived loggers (WithName, WithValues) log to the same sink.
func NewMockLoggerSink() *MockLoggerSink {
	m := &MockLoggerSink{}
	m.On("Init", mock.Anything).Return()
	m.On("Enabled", mock.Anything).Return(true)
	m.On("Info", mock.Anything, mock.Anything, mock.Anything).Return().Run(m.recordMessage)
	m.On("Error", mock.Anything, mock.Anything, mock.Anything).Return().Run(m.recordMessage)
	m.On("WithName", mock.Anything).Return(m)
	m.On("WithValues", mock.Anything).Return(m)
	return m
}

// Logger returns a logger writing to the sink.
func (m *MockLoggerSink) Logger() logr.Logger {
	return logr.New(m)
}

// Messages returns the messages logged so far, in call order.
func (m *MockLoggerSink) Messages() []string {
	m.messagesLock.Lock()
	defer m.messagesLock.Unlock()
	return append([]string(nil), m.messages...)
}

func (m *MockLoggerSink) recordMessage(args mock.Arguments) {
	m.messagesLock.Lock()
	defer m.messagesLock.Unlock()
	m.messages = append(m.messages, args.String(1))
}

func (m *MockLoggerSink) Enabled(level int) bool {
	args := m.Called(level)
	return args.Bool(0)
}

func (m *MockLoggerSink) Error(err error, msg string, keysAndValues ...interface{}) {
	m.Called(err, msg, keysAndValues)
}

func (m *MockLoggerSink) Info(level int, msg string, keysAndValues ...interface{}) {
	m.Called(level, msg, keysAndValues)
}

func (m *MockLoggerSink) Init(info logr.RuntimeInfo) {
	m.Called(info)
}

func (m *MockLoggerSink) WithName(name string) logr.LogSink {
	args := m.Called(name)
	return args.Get(0).(logr.LogSink)
}

func (m *MockLoggerSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	args := m.Called(keysAndValues)
	return args.Get(0).(logr.LogSink)
}

var _ logr.LogSink = (*MockLoggerSink)(nil)
