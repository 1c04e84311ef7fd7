/*
Package log wraps zerolog with Cordon's logging conventions.

Init configures the global logger once at startup; components take child
loggers via WithComponent and the With* field helpers so every line carries
the identifiers an operator greps for (host_id, service_id, work_item_id).
*/
package log
