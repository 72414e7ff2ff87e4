// Package kafka 提供了与 Kafka 消息队列交互的功能。
// 永久语料库的入库任务经由 Kafka 异步处理（种子导入与全量重建都走这条队列）。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/pkg/database"
	"citizen-safety-go/pkg/log"
	"citizen-safety-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentIngestTask) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceIngestTask 发送一个文档入库任务到 Kafka。
func ProduceIngestTask(task tasks.DocumentIngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Value: taskBytes,
		},
	)
}

// maxFetchFailures 是放弃消费循环前允许的连续拉取失败次数。
const maxFetchFailures = 10

// fetchRetryDelay 返回第 failures 次连续拉取失败后的重试间隔。
// 间隔指数增长并封顶在 30s；达到 maxFetchFailures 时返回 false，消费循环退出。
func fetchRetryDelay(failures int) (time.Duration, bool) {
	if failures >= maxFetchFailures {
		return 0, false
	}
	delay := time.Duration(1<<uint(failures-1)) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay, true
}

// StartConsumer 启动一个 Kafka 消费者来处理文档入库任务。
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "citizen-safety-go-consumer"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	fetchFailures := 0
	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			// 瞬时故障（broker 重启、网络抖动）按退避重试，连续失败过多才放弃
			fetchFailures++
			delay, retry := fetchRetryDelay(fetchFailures)
			if !retry {
				log.Errorf("从 Kafka 读取消息连续失败 %d 次，消费者退出: %v", fetchFailures, err)
				break
			}
			log.Errorf("从 Kafka 读取消息失败(第 %d 次)，%s 后重试: %v", fetchFailures, delay, err)
			time.Sleep(delay)
			continue
		}
		fetchFailures = 0

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.DocumentIngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理入库任务: MD5=%s, FileName=%s", task.FileMD5, task.FileName)
		if err := processor.Process(context.Background(), task); err != nil {
			log.Errorf("处理入库任务失败: MD5=%s, Error: %v", task.FileMD5, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.FileMD5)
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr == nil {
				_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			}
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			if attempts >= 3 {
				log.Errorf("入库任务多次失败(>=3)，提交 offset 终止重试: MD5=%s", task.FileMD5)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
			// attempts < 3 时不提交 offset，让 Kafka 自动重试
		} else {
			log.Infof("入库任务处理成功: MD5=%s", task.FileMD5)
			// 清理失败计数
			_ = database.RDB.Del(context.Background(), fmt.Sprintf("kafka:attempts:%s", task.FileMD5)).Err()
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}
