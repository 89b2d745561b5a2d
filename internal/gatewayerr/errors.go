// Package gatewayerr provides the error-kind taxonomy used across the
// gateway runtime (spec §7), and the propagation helpers the manager and
// node runtime use to turn them into RESP_ERROR envelopes.
package gatewayerr

import (
	"errors"
	"fmt"
)

// Code is one semantic error kind. Codes are not tied to any wire encoding;
// RESP_ERROR envelopes carry the Code value verbatim.
type Code string

const (
	// Validation
	CodeParamIsWrong        Code = "PARAM_IS_WRONG"
	CodeBodyIsWrong         Code = "BODY_IS_WRONG"
	CodeIPAddressInvalid    Code = "IP_ADDRESS_INVALID"
	CodeIPAddressInUse      Code = "IP_ADDRESS_IN_USE"
	CodeNodeSettingInvalid  Code = "NODE_SETTING_INVALID"

	// Not found / conflict
	CodeNodeExist                  Code = "NODE_EXIST"
	CodeNodeNotExist                Code = "NODE_NOT_EXIST"
	CodeGroupNotExist               Code = "GROUP_NOT_EXIST"
	CodeGroupMaxGroups              Code = "GROUP_MAX_GROUPS"
	CodeGroupAlreadySubscribed      Code = "GROUP_ALREADY_SUBSCRIBED"
	CodeGroupNotSubscribe           Code = "GROUP_NOT_SUBSCRIBE"
	CodeGroupNotAllow               Code = "GROUP_NOT_ALLOW"
	CodeLibraryNameConflict         Code = "LIBRARY_NAME_CONFLICT"
	CodeLibraryNotFound             Code = "LIBRARY_NOT_FOUND"
	CodeLibraryModuleAlreadyExist   Code = "LIBRARY_MODULE_ALREADY_EXIST"
	CodeLibraryModuleNotExists      Code = "LIBRARY_MODULE_NOT_EXISTS"

	// Policy
	CodeNodeNotAllowDelete          Code = "NODE_NOT_ALLOW_DELETE"
	CodeNodeNotAllowSubscribe       Code = "NODE_NOT_ALLOW_SUBSCRIBE"
	CodeLibrarySystemNotAllowDel    Code = "LIBRARY_SYSTEM_NOT_ALLOW_DEL"
	CodeLibraryInUse                Code = "LIBRARY_IN_USE"
	CodeLibraryNotAllowCreateInstance Code = "LIBRARY_NOT_ALLOW_CREATE_INSTANCE"
	CodePluginTypeNotSupport         Code = "PLUGIN_TYPE_NOT_SUPPORT"

	// Library
	CodeLibraryFailedToOpen         Code = "LIBRARY_FAILED_TO_OPEN"
	CodeLibraryModuleInvalid        Code = "LIBRARY_MODULE_INVALID"
	CodeLibraryModuleVersionNotMatch Code = "LIBRARY_MODULE_VERSION_NOT_MATCH"
	CodeLibraryModuleKindNotSupport  Code = "LIBRARY_MODULE_KIND_NOT_SUPPORT"
	CodeLibraryArchNotSupport        Code = "LIBRARY_ARCH_NOT_SUPPORT"
	CodeLibraryClibNotMatch          Code = "LIBRARY_CLIB_NOT_MATCH"
	CodeLibraryNameNotConform        Code = "LIBRARY_NAME_NOT_CONFORM"
	CodeLibraryAddFail               Code = "LIBRARY_ADD_FAIL"
	CodeLibraryUpdateFail            Code = "LIBRARY_UPDATE_FAIL"

	// Protocol / transport
	CodePluginDisconnected          Code = "PLUGIN_DISCONNECTED"
	CodePluginDeviceNotResponse     Code = "PLUGIN_DEVICE_NOT_RESPONSE"
	CodePluginProtocolDecodeFailure Code = "PLUGIN_PROTOCOL_DECODE_FAILURE"
	CodePluginReadFailure           Code = "PLUGIN_READ_FAILURE"
	CodePluginTagNotAllowWrite      Code = "PLUGIN_TAG_NOT_ALLOW_WRITE"
	CodeMQTTSubscribeFailure        Code = "MQTT_SUBSCRIBE_FAILURE"

	// Generic
	CodeInternal Code = "EINTERNAL"
	CodeSuccess  Code = "SUCCESS"
)

// Error is a structured error carrying a Code, a human message, optional
// details, and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// With attaches one detail key/value and returns e for chaining.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that wraps an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound builds a *_NOT_EXIST style error for the named resource.
func NotFound(code Code, resource, name string) *Error {
	return New(code, resource+" not found").With("name", name)
}

// Validation builds a validation-kind error.
func Validation(code Code, message string) *Error {
	return New(code, message)
}

// Protocol builds a transport/protocol-kind error, optionally wrapping a cause.
func Protocol(code Code, message string, err error) *Error {
	if err != nil {
		return Wrap(code, message, err)
	}
	return New(code, message)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the Code carried by err, or CodeInternal if err does not
// carry one.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}
