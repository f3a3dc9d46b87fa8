// Package registry installs plugins from YAML manifests.
//
// Each manifest names a plugin package, the address its provider process
// listens on and the target and complication providers it serves. The
// Manager dials the plugin, registers its providers with the pipeline and
// persists their settings; Watch reloads manifests as they change on disk.
//
// Manifest layout:
//
//	package: com.example.weather
//	address: unix:///data/local/tmp/weather.sock
//	permissions:
//	  notifications: true
//	providers:
//	  - authority: com.example.weather.target
//	    role: target
//	    config:
//	      show_on_lock: false
//	    requirements:
//	      all:
//	        - authority: com.example.weather.requirement.online
//
// The Repository reads the remote plugin index used to discover plugins.
package registry
