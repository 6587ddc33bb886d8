package main

const sampleConfig = `schema_version: 1
app:
  log_level: info
  log_format: json
  metrics_addr: ":9090"
  buffer: 1000
  shutdown_timeout: 30s
  # dedup:
  #   redis_addr: 127.0.0.1:6379
  #   field: msg_id
  #   ttl: 10m

inputs:
  - name: orders-kafka
    type: kafka
    codec: json
    type_tag: order
    tags: [orders]
    params:
      brokers: ["kafka-1:9092", "kafka-2:9092"]
      group_id: brokerbridge
      topic_id: app.orders
      consumer_threads: 2
      queue_size: 20
      rebalance_max_retries: 4
      rebalance_backoff: 2s
      consumer_restart_on_error: true
      consumer_restart_sleep: 1s

  - name: audit-rabbit
    type: rabbitmq
    codec: json_lines
    tags: [audit]
    params:
      host: rabbitmq
      vhost: /
      user: guest
      password: guest
      queue: audit.inbox
      durable: true
      exchange: audit
      key: "#"
      prefetch_count: 256
      ack: true
      delete_non_durable_on_stop: false

outputs:
  - name: orders-copy
    type: kafka
    codec: json
    filter:
      tags: [orders]
    params:
      broker_list: ["kafka-1:9092"]
      topic_id: bridge.orders
      compression_codec: snappy

  - name: audit-fanout
    type: nats
    codec: json
    filter:
      exclude_tags: [orders]
    params:
      servers: ["nats://nats:4222"]
      subject: "audit.${route_key}"
      key_from: user

  - name: orders-rabbit
    type: rabbitmq
    codec: json
    filter:
      type: order
    params:
      host: rabbitmq
      exchange: orders
      key: orders.synced
      persistent: true
      content_type: application/json
`
