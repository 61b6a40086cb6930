// Package yamlconfig loads workflows written as an ordered task list, in
// YAML or JSON, into the format-agnostic config model.
//
//	workflow:
//	  max_concurrency: 2
//	  retry:
//	    base_delay: 500ms
//	    max_attempts: 3
//	tasks:
//	  - id: extract
//	    payload: {source: crm}
//	  - id: load
//	    dependencies: [extract]
//	    priority: 5
//	    runner: http_request
//	    arguments: {url: "http://localhost:8080/load"}
//
// A task without a runner is handed to the default runner with its payload
// as the single `payload` argument.
package yamlconfig
