package sqlinline

const QCreateSchema = `--sql 21c03aec-0aa1-4e17-83aa-44a25a0439ea
create table if not exists jobs (
    id text primary key,
    status text not null default 'PENDING',
    instruction text not null default '',
    model text not null default 'standard',
    total_images integer not null default 0,
    completed_images integer not null default 0,
    failed_images integer not null default 0,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now(),
    started_at timestamptz,
    completed_at timestamptz,
    constraint jobs_status_check check (status in ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'CANCELLED')),
    constraint jobs_counters_check check (completed_images + failed_images <= total_images)
);

create index if not exists jobs_status_idx on jobs (status);
create index if not exists jobs_created_at_idx on jobs (created_at);

create table if not exists images (
    id text primary key,
    job_id text not null references jobs (id) on delete cascade,
    status text not null default 'PENDING',
    retry_count integer not null default 0,
    next_retry_at timestamptz,
    error_message text,
    original_key text not null,
    original_filename text not null default '',
    mime_type text not null default 'image/jpeg',
    file_size bigint not null default 0,
    specific_prompt text not null default '',
    result_key text,
    result_mime_type text,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now(),
    processed_at timestamptz,
    constraint images_status_check check (status in ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'RETRY_LATER')),
    constraint images_retry_at_check check (status <> 'RETRY_LATER' or next_retry_at is not null)
);

create index if not exists images_claim_idx on images (status, created_at, id);
create index if not exists images_job_idx on images (job_id);

create table if not exists integration_tokens (
    provider text primary key,
    token text not null,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
