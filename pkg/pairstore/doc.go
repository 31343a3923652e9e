// Package pairstore caches host-side state: the developer disk images
// mounted onto a device before Instruments/XCUITest services become
// available, indexed by iOS major.minor version. Pair records themselves live in
// [github.com/tmq-project/tmq-ios/pkg/hostcert], which the mux daemon also
// mirrors; this package only covers state with no daemon-side counterpart.
package pairstore
