// Package testmanagerd drives the XCUITest orchestration sequence: three
// DTX connections (two to testmanagerd, one to the Instruments remote
// server) and one AFC push of an archived test configuration into the
// runner app's sandbox, brought up in the fixed order a real Xcode test
// run uses and torn down together on any failure.
package testmanagerd
