// Package config loads and watches the agent configuration file.
//
// The file has a single top-level key, agent:
//
//	agent:
//	  server_url: http://localhost:8080
//	  scrape_interval: 5s
//	  buffer_size: 1000
//	  server_auth: {mode: apikey, key_env: BLUESENTINEL_API_KEY}
//	  devices:
//	    - id: esp32-01
//	      type: json
//	      endpoint: http://192.168.1.40/reading
//
// Secrets are never stored in the file. AuthConfig names the environment
// variables that hold them and Key, Token and Password resolve them at use.
//
// Watch re-reads the file on change so the device list can be edited without
// restarting the agent.
package config
