/*
Package config loads the breezed YAML configuration.

Load starts from Default, unmarshals the file over it, fills zero values
left by a partial file and validates every section:

	log:
	  level: info
	  json: false
	tasks:
	  registry: {capacity: 8, heartbeat_timeout: 30s}
	  sampler:  {priority: 5, core: 1}
	fan:
	  min_temp: 25
	  max_temp: 40
	  night: {enabled: true, start_hour: 22, end_hour: 7, max_speed: 30}
	sensor:
	  period: 2s
	hardware:
	  pwm: sysfs
	  tachometer: gpio
	  sensor: ds18b20
	  gpio: {chip: gpiochip0, line: 17}
	  ds18b20: {device_id: 28-0316a27914ff}
	link:
	  target: 192.168.1.1:53
	timesync:
	  servers: [pool.ntp.org]
	  timezone: Europe/Madrid
	mqtt:
	  broker: tcp://broker.local:1883
	  prefix: home/fan
	storage:
	  data_dir: /var/lib/breeze
	http:
	  addr: ":9180"

The link manager runs only when link.target is set, time sync only when at
least one server is listed and the message bus only when mqtt.broker is set.
*/
package config
