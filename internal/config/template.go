package config

// DefaultConfigYAML returns a commented YAML string for init-config.
func DefaultConfigYAML() string {
	return `# backupsentry configuration
# Generated by: backupsentry init-config
#
# Per-file pipeline (cannot be changed):
#   1. Extractors score the file: heuristic, sensitive, classifier (0..1 each)
#   2. Scoring fuses the scores into a context score and a confidence tier
#   3. The risk curve maps (context score, tier) to a risk score 0..100
#   4. The decision controller picks pass | encrypt | quarantine
#   5. Any quarantine holds the whole batch back from primary storage

scoring:
  # Weights of the three signals. Each in [0,1], summing to 1.
  fusion_weights:
    heuristic: 0.3
    sensitive: 0.4
    classifier: 0.3
  # Confidence tiers. Low wins over high when both match.
  confidence_thresholds:
    high_min_score: 0.55     # high: every score >= this
    high_max_spread: 0.12    #   and max-min <= this
    neutral_center: 0.5      # low: neutral_min_count scores within
    neutral_band: 0.05       #   neutral_band of neutral_center
    neutral_min_count: 2
    low_min_spread: 0.7      # low: signals disagree by at least this
    low_max_peak: 0.2        # low: no signal reaches this
  # risk = (base + boost) * (1 + context_score) ^ exponent, clamped to 0..100
  risk_curve:
    low:    {base: 0,  boost: 0}
    medium: {base: 20, boost: 10}
    high:   {base: 40, boost: 20}
    exponent: 1

decision:
  sensitive_threshold: 40    # risk >= this -> encrypt
  quarantine_threshold: 60   # risk >= this -> quarantine
  sensitive_floor: 0.85      # sensitive score >= this -> encrypt regardless of risk
  ransomware_floor: 0.9      # classifier score >= this -> quarantine regardless of risk
  encrypt_unscanned: true    # encrypt files larger than extractors.max_bytes
  mass_rename:
    enabled: true
    min_files: 5
    min_fraction: 0.3

extractors:
  max_bytes: 200000          # bytes read per file
  keyword_saturate: 6
  entropy_low: 7.2
  entropy_high: 7.9
  classifier: heuristic      # heuristic | onnx
  # onnx:
  #   model_path: /opt/models/ransom.onnx
  #   library_path: /usr/lib/libonnxruntime.so

honey:
  token_count: 5
  placement: spread          # spread | random | root
  max_filler_bytes: 65536
  dedupe_window: 1m
  drain_grace: 2s
  # dir: ~/.backupsentry/honey

alerts:
  dedupe_window: 1m
  dedupe_size: 4096
  # webhooks:
  #   - url: https://hooks.slack.com/services/T000/B000/XXXX
  #     format: slack          # generic | slack | pagerduty
  #     events: [honeytoken_accessed, ransomware_suspected]
  #     per_minute: 30

# nats:
#   url: nats://127.0.0.1:4222
#   subject_prefix: backupsentry.alerts

# store:
#   dsn: postgres://backupsentry@db/backupsentry   # default: ~/.backupsentry/backupsentry.db

storage:
  kind: local                # local | minio
  # minio:
  #   endpoint: minio:9000
  #   bucket: backups
  #   use_ssl: false
  # credentials come from S3_ACCESS_KEY / S3_SECRET_KEY

workers: 8

log:
  level: info                # debug | info | warn | error
  format: text               # text | json

server:
  grpc_addr: 127.0.0.1:7443
  metrics_addr: 127.0.0.1:9464
`
}
